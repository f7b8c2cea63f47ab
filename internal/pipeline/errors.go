package pipeline

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigUnavailable     = errors.New("configuration unavailable")
	ErrUnknownTask           = errors.New("unknown task")
	ErrMalformedInput        = errors.New("malformed input")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrMarketplaceCallFailed = errors.New("marketplace call failed")
	ErrReconciliationGap     = errors.New("reconciliation gap")
	ErrPersistenceFailed     = errors.New("persistence failed")
	ErrPublishFailed         = errors.New("publish failed")
)

// InsufficientFundsError rejects a whole batch before any item is created.
type InsufficientFundsError struct {
	ObjectKey string
	Balance   decimal.Decimal
	Cost      decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: balance %s, cost %s", e.ObjectKey, e.Balance, e.Cost)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// RowError is a failure isolated to one CSV data row. Row is 1-based and
// does not count the header. WorkItemID is set when the item was created
// before the failure, i.e. it is live on the marketplace without a route.
type RowError struct {
	Row        int
	WorkItemID string
	Err        error
}

func (e *RowError) Error() string {
	if e.WorkItemID != "" {
		return fmt.Sprintf("row %d (work item %s): %v", e.Row, e.WorkItemID, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// EventError is a failure isolated to one completion event, or to a whole
// message when the body could not be decoded (AssignmentID empty).
type EventError struct {
	MessageID    string
	AssignmentID string
	Err          error
}

func (e *EventError) Error() string {
	if e.AssignmentID == "" {
		return fmt.Sprintf("message %s: %v", e.MessageID, e.Err)
	}
	return fmt.Sprintf("message %s assignment %s: %v", e.MessageID, e.AssignmentID, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// Kind names the taxonomy entry err belongs to, for logs and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigUnavailable):
		return "config_unavailable"
	case errors.Is(err, ErrUnknownTask):
		return "unknown_task"
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrMarketplaceCallFailed):
		return "marketplace_call_failed"
	case errors.Is(err, ErrReconciliationGap):
		return "reconciliation_gap"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, ErrPublishFailed):
		return "publish_failed"
	default:
		return "internal"
	}
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
