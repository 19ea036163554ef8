package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type pgMetadata struct {
	db db.DBTX
}

// NewMetadataStore returns a MetadataStore over the system_metadata table.
func NewMetadataStore(q db.DBTX) MetadataStore {
	return &pgMetadata{db: q}
}

func (m *pgMetadata) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := m.db.QueryRow(ctx, `SELECT value FROM system_metadata WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: read %s: %v", shared.ErrStorage, key, err)
	}
	return v, true, nil
}

func (m *pgMetadata) Put(ctx context.Context, key, value string) error {
	_, err := m.db.Exec(ctx, `INSERT INTO system_metadata (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", shared.ErrStorage, key, err)
	}
	return nil
}

func (m *pgMetadata) PutIfAbsent(ctx context.Context, key, value string) (string, error) {
	if _, err := m.db.Exec(ctx, `INSERT INTO system_metadata (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", shared.ErrStorage, key, err)
	}
	v, ok, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s vanished after insert", shared.ErrStorage, key)
	}
	return v, nil
}
