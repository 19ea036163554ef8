package ledger

import (
	"context"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// Repository abstracts voucher persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Voucher, error)
	List(ctx context.Context, filter ListFilter) ([]Summary, int, error)
	Movements(ctx context.Context, voucherID int64) ([]Movement, error)
	PostingStats(ctx context.Context) ([]PostingStat, error)
}

// TxRepository exposes the writes that make up one atomic voucher change.
type TxRepository interface {
	NextTransactionNumber(ctx context.Context) (int64, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	LockVoucher(ctx context.Context, id int64) (Voucher, error)
	UpdateVoucher(ctx context.Context, v Voucher) (Voucher, error)
	DeleteMovements(ctx context.Context, voucherID int64) error
	InsertMovements(ctx context.Context, movements []Movement) error
	DeleteVoucher(ctx context.Context, id int64) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// PostingStat summarises the stored movements of one voucher for integrity checks.
type PostingStat struct {
	VoucherID         int64
	TransactionNumber int64
	TypeID            txntype.ID
	LineCount         int
	MovementCount     int
	// UnbalancedItems counts items whose movements do not net to zero on this voucher.
	UnbalancedItems int
}

// Invalidator drops derived read caches after a ledger write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Idempotency remembers which voucher a client request key produced.
type Idempotency interface {
	Lookup(ctx context.Context, key string) (int64, bool, error)
	Reserve(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key string, resourceID int64) error
	Delete(ctx context.Context, key string) error
}

// Recorder observes the outcome of ledger writes.
type Recorder interface {
	ObserveWrite(op string, err error)
}
