package repositories

import "fmt"

// CashbookErrorCode enumerates repository error causes for ledger operations.
type CashbookErrorCode string

const (
	// CashbookErrorUnknown represents an unspecified failure.
	CashbookErrorUnknown CashbookErrorCode = "cashbook_unknown"
	// CashbookErrorEntryNotFound indicates the ledger entry is missing.
	CashbookErrorEntryNotFound CashbookErrorCode = "cashbook_entry_not_found"
	// CashbookErrorDuplicateEntry indicates the entry ID was already written.
	CashbookErrorDuplicateEntry CashbookErrorCode = "cashbook_duplicate_entry"
)

// CashbookError wraps ledger-specific failures with machine readable codes.
type CashbookError struct {
	Op      string
	Code    CashbookErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CashbookError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CashbookError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCashbookError constructs a typed cashbook error.
func NewCashbookError(code CashbookErrorCode, message string, err error) *CashbookError {
	if message == "" {
		message = string(code)
	}
	return &CashbookError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
