// Package license implements the activation gate that precedes ledger writes.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Status is the closed set of gate states.
type Status string

const (
	StatusValid   Status = "Valid"
	StatusTrial   Status = "Trial"
	StatusExpired Status = "Expired"
	StatusInvalid Status = "Invalid"
)

// Allows reports whether the status grants access to writes.
func (s Status) Allows() bool {
	return s == StatusValid || s == StatusTrial
}

const (
	subject = "license"

	keyToken          = "license_token"
	keyFirstRun       = "first_run_at"
	keyInstallationID = "installation_id"
)

// Claims is the signed license payload.
type Claims struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	SystemID string `json:"system_id"`
	jwt.RegisteredClaims
}

// State is the outcome of a gate check.
type State struct {
	Status      Status     `json:"status"`
	Name        string     `json:"name,omitempty"`
	Type        string     `json:"type,omitempty"`
	SystemID    string     `json:"system_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// MetadataStore persists small key/value facts about the installation.
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	// PutIfAbsent stores value unless key exists and returns whatever is stored afterwards.
	PutIfAbsent(ctx context.Context, key, value string) (string, error)
}

// Config tunes the gate.
type Config struct {
	Secret   []byte
	Trial    time.Duration
	SystemID string
	Now      func() time.Time
}

// Gate decides the license status from the stored token and first-run timestamp. The
// transitions depend only on the clock and the signed expiry.
type Gate struct {
	store  MetadataStore
	secret []byte
	trial  time.Duration
	now    func() time.Time

	mu       sync.Mutex
	systemID string
}

// NewGate builds a Gate.
func NewGate(store MetadataStore, cfg Config) (*Gate, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("license: secret required")
	}
	g := &Gate{store: store, secret: cfg.Secret, trial: cfg.Trial, now: cfg.Now, systemID: strings.TrimSpace(cfg.SystemID)}
	if g.trial <= 0 {
		g.trial = 24 * time.Hour
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// SystemID returns the id licenses are locked to. Without a configured id a random
// installation id is generated once and persisted.
func (g *Gate) SystemID(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.systemID != "" {
		return g.systemID, nil
	}
	id, err := g.store.PutIfAbsent(ctx, keyInstallationID, uuid.NewString())
	if err != nil {
		return "", err
	}
	g.systemID = id
	return id, nil
}

// Check evaluates the current state.
func (g *Gate) Check(ctx context.Context) (State, error) {
	systemID, err := g.SystemID(ctx)
	if err != nil {
		return State{}, err
	}
	token, ok, err := g.store.Get(ctx, keyToken)
	if err != nil {
		return State{}, err
	}
	if ok && token != "" {
		return g.evaluate(token, systemID), nil
	}
	return g.trialState(ctx, systemID)
}

// Activate verifies and stores a license token. Tokens that would not yield a Valid state
// are refused and the stored token is left untouched.
func (g *Gate) Activate(ctx context.Context, token string) (State, error) {
	systemID, err := g.SystemID(ctx)
	if err != nil {
		return State{}, err
	}
	token = strings.TrimSpace(token)
	st := g.evaluate(token, systemID)
	if st.Status != StatusValid {
		return st, fmt.Errorf("%w: license %s: %s", shared.ErrValidation, strings.ToLower(string(st.Status)), st.Reason)
	}
	if err := g.store.Put(ctx, keyToken, token); err != nil {
		return State{}, err
	}
	return st, nil
}

// Issue signs a license for systemID. It backs the offline issuing command.
func (g *Gate) Issue(name, kind, systemID string, expires time.Time) (string, error) {
	now := g.now()
	claims := Claims{
		Type:     kind,
		Name:     name,
		SystemID: systemID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

func (g *Gate) evaluate(token, systemID string) State {
	st := State{SystemID: systemID}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		st.ExpiresAt = &exp
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		st.Status = StatusExpired
		st.Reason = "license has expired"
		st.Name, st.Type = claims.Name, claims.Type
		return st
	case err != nil:
		st.Status = StatusInvalid
		st.Reason = "license token is not genuine"
		st.ExpiresAt = nil
		return st
	case claims.SystemID != systemID:
		st.Status = StatusInvalid
		st.Reason = "license belongs to another installation"
		return st
	}
	st.Status = StatusValid
	st.Name, st.Type = claims.Name, claims.Type
	return st
}

func (g *Gate) trialState(ctx context.Context, systemID string) (State, error) {
	stored, err := g.store.PutIfAbsent(ctx, keyFirstRun, g.now().UTC().Format(time.RFC3339))
	if err != nil {
		return State{}, err
	}
	first, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		return State{SystemID: systemID, Status: StatusInvalid, Reason: "first run timestamp is corrupt"}, nil
	}
	ends := first.Add(g.trial)
	st := State{SystemID: systemID, TrialEndsAt: &ends}
	if g.now().Before(ends) {
		st.Status = StatusTrial
		return st, nil
	}
	st.Status = StatusExpired
	st.Reason = "trial period has ended"
	return st, nil
}
