package task

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var ErrInvalidTemplate = errors.New("invalid task template")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Template describes how to create a work item for one task. It is decoded
// from runtime configuration and never mutated afterwards.
type Template struct {
	Title                       string          `json:"Title" validate:"required"`
	Description                 string          `json:"Description" validate:"required"`
	Keywords                    string          `json:"Keywords,omitempty"`
	Reward                      decimal.Decimal `json:"Reward"`
	MaxAssignments              int32           `json:"MaxAssignments" validate:"min=1"`
	AssignmentDurationInSeconds int64           `json:"AssignmentDurationInSeconds" validate:"min=30"`
	LifetimeInSeconds           int64           `json:"LifetimeInSeconds" validate:"min=30"`
	AutoApprovalDelayInSeconds  int64           `json:"AutoApprovalDelayInSeconds,omitempty" validate:"min=0"`
	LayoutID                    string          `json:"HITLayoutId,omitempty"`
	RequesterAnnotation         string          `json:"RequesterAnnotation,omitempty" validate:"max=255"`
}

func (t Template) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if !t.Reward.IsPositive() {
		return fmt.Errorf("%w: reward must be positive", ErrInvalidTemplate)
	}
	// the marketplace bills whole cents; Cost must match what is billed
	if !t.Reward.Equal(t.Reward.Round(2)) {
		return fmt.Errorf("%w: reward %s has sub-cent precision", ErrInvalidTemplate, t.Reward)
	}
	return nil
}

// Cost is the reward for n work items.
func (t Template) Cost(n int) decimal.Decimal {
	return t.Reward.Mul(decimal.NewFromInt(int64(n)))
}

// Request merges one row into the template. The layout defaults to the
// task name when the template does not name one.
func (t Template) Request(taskName string, row Row) CreateRequest {
	layout := t.LayoutID
	if layout == "" {
		layout = taskName
	}
	return CreateRequest{Template: t, LayoutID: layout, Params: row}
}
