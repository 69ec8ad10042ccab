package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/internal/http/dto"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/queue"
	"github.com/sukru-can1/the-agent/internal/store"
)

// EventPublisher ingests new events.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.Event) (*queue.PublishResult, error)
}

// EventReader serves event records to the API.
type EventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Event, error)
	List(ctx context.Context, status *model.EventStatus, limit int) ([]*model.Event, error)
}

// ActionReader serves audit records to the API.
type ActionReader interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*model.AuditRecord, error)
}

type EventHandler struct {
	publisher EventPublisher
	events    EventReader
	actions   ActionReader
}

func NewEventHandler(publisher EventPublisher, events EventReader, actions ActionReader) *EventHandler {
	return &EventHandler{publisher: publisher, events: events, actions: actions}
}

func (h *EventHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid ingest request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := model.Priority(req.Priority)
	if req.Priority == 0 {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be between 1 (critical) and 9 (background)"})
		return
	}

	event := model.NewEvent(model.EventSource(req.Source), req.EventType, priority, req.Payload)
	event.IdempotencyKey = req.IdempotencyKey

	result, err := h.publisher.Publish(ctx, event)
	if err != nil {
		slog.ErrorContext(ctx, "event ingest failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestEventResponse{
		EventID:   result.EventID,
		Duplicate: result.Duplicate,
	})
}

func (h *EventHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var status *model.EventStatus
	if raw := c.Query("status"); raw != "" {
		s := model.EventStatus(raw)
		status = &s
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.events.List(ctx, status, limit)
	if err != nil {
		slog.ErrorContext(ctx, "list events failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	out := make([]dto.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, dto.FromEvent(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (h *EventHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		slog.ErrorContext(ctx, "get event failed", "event_id", eventID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}

	actions, err := h.actions.ListByEvent(ctx, eventID)
	if err != nil {
		slog.ErrorContext(ctx, "list actions failed", "event_id", eventID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event actions"})
		return
	}

	actionsOut := make([]dto.ActionRecordResponse, 0, len(actions))
	for _, a := range actions {
		actionsOut = append(actionsOut, dto.FromAuditRecord(a))
	}

	c.JSON(http.StatusOK, gin.H{
		"event":   dto.FromEvent(event),
		"actions": actionsOut,
	})
}
