package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/taskintegrator/internal/http/middlewares"
	"github.com/geocoder89/taskintegrator/internal/pipeline"
	"github.com/gin-gonic/gin"
)

type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, in pipeline.BatchInput) (pipeline.SubmitResult, error)
	SubmitRecords(ctx context.Context, records []pipeline.BatchInput) ([]pipeline.RecordOutcome, error)
}

type SubmitBatchRequest struct {
	ObjectKey string `json:"objectKey" binding:"required,max=1024"`
	Bucket    string `json:"bucket" binding:"max=255"`
	// Body is the CSV text of the stored object.
	Body string `json:"body" binding:"required"`
}

func (r SubmitBatchRequest) input() pipeline.BatchInput {
	return pipeline.BatchInput{ObjectKey: r.ObjectKey, Bucket: r.Bucket, Body: []byte(r.Body)}
}

type SubmitRecordsRequest struct {
	Records []SubmitBatchRequest `json:"records" binding:"required,min=1,max=100,dive"`
}

type SubmitBatchResponse struct {
	ObjectKey         string    `json:"objectKey"`
	Task              string    `json:"task"`
	Rows              int       `json:"rows"`
	CreatedCount      int       `json:"createdCount"`
	OrphanedCount     int       `json:"orphanedCount"`
	Cost              string    `json:"cost"`
	TypeID            string    `json:"typeId,omitempty"`
	Failures          []Failure `json:"failures"`
	RegistrationError string    `json:"registrationError,omitempty"`
}

func submitResponse(res pipeline.SubmitResult) SubmitBatchResponse {
	out := SubmitBatchResponse{
		ObjectKey:     res.ObjectKey,
		Task:          res.Task,
		Rows:          res.Rows,
		CreatedCount:  res.CreatedCount,
		OrphanedCount: res.OrphanedCount,
		Cost:          res.Cost.StringFixed(2),
		TypeID:        res.TypeID,
		Failures:      failureViews(res.Failures),
	}
	if res.RegistrationErr != nil {
		out.RegistrationError = res.RegistrationErr.Error()
	}
	return out
}

type BatchesHandler struct {
	svc BatchSubmitter
}

func NewBatchesHandler(svc BatchSubmitter) *BatchesHandler {
	return &BatchesHandler{svc: svc}
}

func (h *BatchesHandler) SubmitBatch(ctx *gin.Context) {
	var req SubmitBatchRequest
	if !BindJSON(ctx, &req) {
		return
	}
	ctx.Set(middlewares.CtxObjectKey, req.ObjectKey)

	res, err := h.svc.SubmitBatch(ctx.Request.Context(), req.input())
	if err != nil {
		RespondPipelineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, submitResponse(res))
}

type RecordResponse struct {
	SubmitBatchResponse
	Error *APIError `json:"error,omitempty"`
}

// SubmitRecords handles a multi-record trigger. Per-record rejections are
// reported inline; only a failure to load settings fails the request.
func (h *BatchesHandler) SubmitRecords(ctx *gin.Context) {
	var req SubmitRecordsRequest
	if !BindJSON(ctx, &req) {
		return
	}

	inputs := make([]pipeline.BatchInput, len(req.Records))
	for i, r := range req.Records {
		inputs[i] = r.input()
	}

	outcomes, err := h.svc.SubmitRecords(ctx.Request.Context(), inputs)
	if err != nil {
		RespondPipelineError(ctx, err)
		return
	}

	items := make([]RecordResponse, len(outcomes))
	for i, o := range outcomes {
		items[i] = RecordResponse{SubmitBatchResponse: submitResponse(o.Result)}
		if o.Err != nil {
			items[i].Error = &APIError{Code: pipeline.Kind(o.Err), Message: o.Err.Error()}
		}
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"records": items,
		"count":   len(items),
	})
}
