package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/internal/guardrail"
	"github.com/sukru-can1/the-agent/internal/http/dto"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/store"
)

// QueueController exposes the queue operations the admin API needs.
type QueueController interface {
	Len(ctx context.Context) (int64, error)
	Paused(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// DeadLetterAdmin exposes the dead letter operations the admin API needs.
type DeadLetterAdmin interface {
	GetByID(ctx context.Context, id int64) (*model.DeadLetterRecord, error)
	List(ctx context.Context, unresolvedOnly bool, limit int) ([]*model.DeadLetterRecord, error)
	CountUnresolved(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id int64, resolvedBy string) error
}

type AdminHandler struct {
	queue       QueueController
	deadLetters DeadLetterAdmin
	publisher   EventPublisher
	events      EventReader
}

func NewAdminHandler(queue QueueController, deadLetters DeadLetterAdmin, publisher EventPublisher, events EventReader) *AdminHandler {
	return &AdminHandler{queue: queue, deadLetters: deadLetters, publisher: publisher, events: events}
}

// RequireAPIKey guards the admin routes with a shared key.
func RequireAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API is not configured"})
			return
		}
		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (h *AdminHandler) QueueStatus(c *gin.Context) {
	ctx := c.Request.Context()

	depth, err := h.queue.Len(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "queue depth check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue status"})
		return
	}
	paused, err := h.queue.Paused(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "queue pause check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue status"})
		return
	}

	deadLetters, err := h.deadLetters.CountUnresolved(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "dead letter count failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue status"})
		return
	}

	c.JSON(http.StatusOK, dto.QueueStatusResponse{
		Depth:       depth,
		Paused:      paused,
		DeadLetters: deadLetters,
	})
}

// ApproveEvent re-publishes a guardrail-blocked event with an approval
// marker so the rules are bypassed on the rerun.
func (h *AdminHandler) ApproveEvent(c *gin.Context) {
	ctx := c.Request.Context()

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	original, err := h.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		slog.ErrorContext(ctx, "get event failed", "event_id", eventID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}
	if !original.Status.Terminal() && original.Status != model.StatusFailed {
		c.JSON(http.StatusConflict, gin.H{"error": "event is still being processed"})
		return
	}

	payload := make(map[string]any, len(original.Payload)+1)
	for k, v := range original.Payload {
		payload[k] = v
	}
	payload[guardrail.ApprovalKey] = req.ApprovedBy

	event := model.NewEvent(original.Source, original.EventType, original.Priority, payload)
	event.IdempotencyKey = fmt.Sprintf("approve:%s:%d", original.ID, time.Now().UnixMilli())

	result, err := h.publisher.Publish(ctx, event)
	if err != nil {
		slog.ErrorContext(ctx, "approved re-publish failed", "event_id", eventID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to re-publish event"})
		return
	}

	slog.InfoContext(ctx, "blocked event approved",
		"original_event_id", original.ID,
		"event_id", result.EventID,
		"approved_by", req.ApprovedBy)

	c.JSON(http.StatusOK, dto.RetryResponse{EventID: result.EventID})
}

func (h *AdminHandler) PauseQueue(c *gin.Context) {
	if err := h.queue.Pause(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pause queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *AdminHandler) ResumeQueue(c *gin.Context) {
	if err := h.queue.Resume(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	ctx := c.Request.Context()

	unresolvedOnly := c.DefaultQuery("unresolved", "true") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.deadLetters.List(ctx, unresolvedOnly, limit)
	if err != nil {
		slog.ErrorContext(ctx, "list dead letters failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	out := make([]dto.DeadLetterResponse, 0, len(records))
	for _, r := range records {
		out = append(out, dto.FromDeadLetter(r))
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": out})
}

// RetryDeadLetter re-publishes a dead-lettered event as a fresh event with a
// reset retry budget and marks the record resolved.
func (h *AdminHandler) RetryDeadLetter(c *gin.Context) {
	ctx := c.Request.Context()

	recID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dead letter id"})
		return
	}

	rec, err := h.deadLetters.GetByID(ctx, recID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
			return
		}
		slog.ErrorContext(ctx, "get dead letter failed", "dead_letter_id", recID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dead letter"})
		return
	}
	if rec.Resolved() {
		c.JSON(http.StatusConflict, gin.H{"error": "dead letter already resolved"})
		return
	}

	event := model.NewEvent(rec.Source, rec.EventType, rec.Priority, rec.Payload)
	event.IdempotencyKey = fmt.Sprintf("dlq-retry:%d:%d", rec.ID, time.Now().UnixMilli())

	result, err := h.publisher.Publish(ctx, event)
	if err != nil {
		slog.ErrorContext(ctx, "dead letter retry failed", "dead_letter_id", recID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to re-publish event"})
		return
	}

	if err := h.deadLetters.Resolve(ctx, recID, "retry"); err != nil {
		slog.ErrorContext(ctx, "resolve after retry failed", "dead_letter_id", recID, "error", err)
	}

	c.JSON(http.StatusOK, dto.RetryResponse{EventID: result.EventID})
}

func (h *AdminHandler) ResolveDeadLetter(c *gin.Context) {
	ctx := c.Request.Context()

	recID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dead letter id"})
		return
	}

	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deadLetters.Resolve(ctx, recID, req.ResolvedBy); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found or already resolved"})
			return
		}
		slog.ErrorContext(ctx, "resolve dead letter failed", "dead_letter_id", recID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve dead letter"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resolved": true})
}
