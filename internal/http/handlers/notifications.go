package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/gin-gonic/gin"
)

type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, body []byte) (string, error)
}

// NotificationsHandler accepts marketplace notification bodies and places
// them on the inbound queue unchanged.
type NotificationsHandler struct {
	queue NotificationEnqueuer
}

func NewNotificationsHandler(queue NotificationEnqueuer) *NotificationsHandler {
	return &NotificationsHandler{queue: queue}
}

func (h *NotificationsHandler) Receive(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(ctx, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large", nil)
			return
		}
		RespondBadRequest(ctx, "Could not read body", nil)
		return
	}

	events, err := task.DecodeEvents(body)
	if err != nil {
		RespondBadRequest(ctx, "Invalid notification body", gin.H{"reason": err.Error()})
		return
	}

	id, err := h.queue.Enqueue(ctx.Request.Context(), body)
	if err != nil {
		RespondError(ctx, http.StatusServiceUnavailable, "queue_unavailable", "Could not enqueue notification", nil)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"messageId": id,
		"events":    len(events),
	})
}
