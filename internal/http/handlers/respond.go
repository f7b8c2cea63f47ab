package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/taskintegrator/internal/http/middlewares"
	"github.com/geocoder89/taskintegrator/internal/pipeline"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if s := ctx.GetString(middlewares.CtxRequestID); s != "" {
		return s
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

// RespondPipelineError maps a batch- or invocation-level pipeline error to
// a status code.
func RespondPipelineError(ctx *gin.Context, err error) {
	var ife *pipeline.InsufficientFundsError
	if errors.As(err, &ife) {
		RespondError(ctx, http.StatusPaymentRequired, "insufficient_funds", "Balance does not cover the batch", gin.H{
			"objectKey": ife.ObjectKey,
			"balance":   ife.Balance.String(),
			"cost":      ife.Cost.String(),
		})
		return
	}

	switch {
	case errors.Is(err, pipeline.ErrUnknownTask):
		RespondError(ctx, http.StatusNotFound, "unknown_task", err.Error(), nil)
	case errors.Is(err, pipeline.ErrMalformedInput):
		RespondBadRequest(ctx, err.Error(), nil)
	case errors.Is(err, pipeline.ErrConfigUnavailable):
		RespondError(ctx, http.StatusServiceUnavailable, "config_unavailable", "Runtime configuration unavailable", nil)
	case errors.Is(err, pipeline.ErrMarketplaceCallFailed):
		RespondError(ctx, http.StatusBadGateway, "marketplace_unavailable", "Marketplace call failed", nil)
	default:
		RespondInternal(ctx, "Pipeline invocation failed")
	}
}

// Failure is one row- or event-level failure as reported to callers.
type Failure struct {
	Row          int    `json:"row,omitempty"`
	WorkItemID   string `json:"workItemId,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	AssignmentID string `json:"assignmentId,omitempty"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

func failureViews(errs []error) []Failure {
	out := make([]Failure, 0, len(errs))

	for _, err := range errs {
		f := Failure{Kind: pipeline.Kind(err), Message: err.Error()}

		var rowErr *pipeline.RowError
		var evErr *pipeline.EventError
		switch {
		case errors.As(err, &rowErr):
			f.Row = rowErr.Row
			f.WorkItemID = rowErr.WorkItemID
			f.Message = rowErr.Err.Error()
		case errors.As(err, &evErr):
			f.MessageID = evErr.MessageID
			f.AssignmentID = evErr.AssignmentID
			f.Message = evErr.Err.Error()
		}
		out = append(out, f)
	}
	return out
}
