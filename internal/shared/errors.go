package shared

import "errors"

var (
	// ErrValidation indicates input rejected before any persistence.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a write lost a race after its retry was exhausted.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate indicates a unique key (code, name) already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrStorage indicates the backing store failed; the operation was not applied.
	ErrStorage = errors.New("storage failure")
	// ErrLicenseRequired is returned when the license gate denies access.
	ErrLicenseRequired = errors.New("license required")
)

// UserSafeMessage returns the single message shown to an operator for a failed call.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return err.Error()
	case errors.Is(err, ErrDuplicate):
		return err.Error()
	case errors.Is(err, ErrConflict):
		return "the record was changed by another request, please retry"
	case errors.Is(err, ErrLicenseRequired):
		return "a valid license is required for this operation"
	default:
		return "internal error, please try again later"
	}
}
