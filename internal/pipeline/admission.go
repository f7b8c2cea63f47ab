package pipeline

import (
	"context"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/shopspring/decimal"
)

const MetricBalance = "balance"

// Admission is an admitted batch's budget.
type Admission struct {
	Balance decimal.Decimal
	Cost    decimal.Decimal
}

// Remaining is the post-creation estimate. It assumes every item was
// created at the template reward; it is not re-queried.
func (a Admission) Remaining() decimal.Decimal {
	return a.Balance.Sub(a.Cost)
}

type AdmissionController struct {
	metrics MetricsSink
	now     func() time.Time
}

func NewAdmissionController(metrics MetricsSink) *AdmissionController {
	if metrics == nil {
		metrics = discardMetrics{}
	}
	return &AdmissionController{metrics: metrics, now: time.Now}
}

// Admit admits a batch of n rows iff the balance covers reward × n.
func (a *AdmissionController) Admit(ctx context.Context, mk Marketplace, objectKey string, tmpl task.Template, n int) (Admission, error) {
	cost := tmpl.Cost(n)

	balance, err := mk.GetBalance(ctx)
	if err != nil {
		return Admission{}, wrap(ErrMarketplaceCallFailed, "get balance: %v", err)
	}

	if balance.LessThan(cost) {
		return Admission{}, &InsufficientFundsError{ObjectKey: objectKey, Balance: balance, Cost: cost}
	}

	a.record(balance)
	return Admission{Balance: balance, Cost: cost}, nil
}

// Settle reports the remaining balance once item creation is over.
func (a *AdmissionController) Settle(adm Admission) {
	a.record(adm.Remaining())
}

func (a *AdmissionController) record(v decimal.Decimal) {
	f, _ := v.Float64()
	a.metrics.Record(MetricBalance, f, a.now())
}
