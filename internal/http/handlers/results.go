package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/taskintegrator/internal/pipeline"
	"github.com/gin-gonic/gin"
)

type ResultsCollector interface {
	CollectResults(ctx context.Context) (pipeline.CollectResult, error)
}

type CollectResponse struct {
	Rounds            int       `json:"rounds"`
	Received          int       `json:"received"`
	RepublishedCount  int       `json:"republishedCount"`
	EventsRepublished int       `json:"eventsRepublished"`
	Retained          int       `json:"retained"`
	Failures          []Failure `json:"failures"`
}

type ResultsHandler struct {
	svc ResultsCollector
}

func NewResultsHandler(svc ResultsCollector) *ResultsHandler {
	return &ResultsHandler{svc: svc}
}

func (h *ResultsHandler) Collect(ctx *gin.Context) {
	res, err := h.svc.CollectResults(ctx.Request.Context())
	if err != nil {
		RespondPipelineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, CollectResponse{
		Rounds:            res.Rounds,
		Received:          res.Received,
		RepublishedCount:  res.RepublishedCount,
		EventsRepublished: res.EventsRepublished,
		Retained:          res.Retained,
		Failures:          failureViews(res.Failures),
	})
}
