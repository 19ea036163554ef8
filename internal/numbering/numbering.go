// Package numbering issues voucher transaction numbers.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CounterVoucher is the ledger_counters row backing voucher numbers.
const CounterVoucher = "voucher"

// Authority hands out strictly increasing numbers. Next must run inside the caller's
// transaction so that issuance commits or rolls back together with the voucher insert.
type Authority interface {
	Next(ctx context.Context, q db.DBTX) (int64, error)
}

// PGAuthority increments a counter row. The row lock taken by UPDATE serialises concurrent
// callers until their transactions finish.
type PGAuthority struct {
	Counter string
}

// NewPGAuthority returns an Authority backed by the named counter row.
func NewPGAuthority(counter string) *PGAuthority {
	if counter == "" {
		counter = CounterVoucher
	}
	return &PGAuthority{Counter: counter}
}

// Next increments and returns the counter.
func (a *PGAuthority) Next(ctx context.Context, q db.DBTX) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `UPDATE ledger_counters SET value = value + 1 WHERE name = $1 RETURNING value`, a.Counter).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: counter %q is not seeded", shared.ErrStorage, a.Counter)
		}
		if db.IsRetryable(err) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: next %s number: %v", shared.ErrStorage, a.Counter, err)
	}
	return n, nil
}

// Formatter renders transaction numbers for display, e.g. TXN-000042.
type Formatter struct {
	Prefix string
	Width  int
}

// NewFormatter builds a Formatter with a six digit width.
func NewFormatter(prefix string) Formatter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "TXN"
	}
	return Formatter{Prefix: prefix, Width: 6}
}

// Format renders n with the configured prefix.
func (f Formatter) Format(n int64) string {
	return fmt.Sprintf("%s-%0*d", f.Prefix, f.Width, n)
}

// Parse reverses Format. A bare number is accepted too.
func (f Formatter) Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, f.Prefix+"-")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid transaction number %q", shared.ErrValidation, s)
	}
	return n, nil
}
