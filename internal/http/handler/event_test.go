package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/internal/http/handler"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/queue"
	"github.com/sukru-can1/the-agent/internal/store"
)

var _ = Describe("EventHandler", func() {
	var (
		publisher *mockPublisher
		events    *mockEventReader
		actions   *mockActionReader
		router    *gin.Engine
	)

	BeforeEach(func() {
		publisher = &mockPublisher{}
		events = &mockEventReader{}
		actions = &mockActionReader{}

		h := handler.NewEventHandler(publisher, events, actions)
		router = gin.New()
		router.POST("/events", h.Ingest)
		router.GET("/events", h.List)
		router.GET("/events/:id", h.Get)
	})

	Describe("Ingest", func() {
		It("accepts a valid event", func() {
			body, _ := json.Marshal(map[string]any{
				"source":          "ticketing",
				"event_type":      "ticket.created",
				"priority":        3,
				"payload":         map[string]any{"ticket_id": "T-42"},
				"idempotency_key": "ticketing:ticket.created:T-42",
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(publisher.published).To(HaveLen(1))
			Expect(publisher.published[0].Priority).To(Equal(model.PriorityHigh))
			Expect(publisher.published[0].IdempotencyKey).To(Equal("ticketing:ticket.created:T-42"))
		})

		It("defaults the priority to medium", func() {
			body, _ := json.Marshal(map[string]any{
				"source":          "email",
				"event_type":      "email.received",
				"idempotency_key": "email:msg-1",
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(publisher.published[0].Priority).To(Equal(model.PriorityMedium))
		})

		It("accepts an event without an idempotency key", func() {
			body, _ := json.Marshal(map[string]any{
				"source":     "email",
				"event_type": "email.received",
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(publisher.published).To(HaveLen(1))
			Expect(publisher.published[0].IdempotencyKey).To(BeEmpty())
		})

		It("rejects an invalid priority", func() {
			body, _ := json.Marshal(map[string]any{
				"source":          "email",
				"event_type":      "email.received",
				"priority":        42,
				"idempotency_key": "email:msg-2",
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("reports duplicates", func() {
			publisher.publishFunc = func(ctx context.Context, event *model.Event) (*queue.PublishResult, error) {
				return &queue.PublishResult{EventID: event.ID, Duplicate: true}, nil
			}
			body, _ := json.Marshal(map[string]any{
				"source":          "email",
				"event_type":      "email.received",
				"idempotency_key": "email:msg-1",
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusAccepted))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["duplicate"]).To(BeTrue())
		})
	})

	Describe("Get", func() {
		It("returns the event with its action records", func() {
			event := model.NewEvent(model.SourceTicketing, "ticket.created", model.PriorityHigh, nil)
			events.getFunc = func(ctx context.Context, id uuid.UUID) (*model.Event, error) {
				return event, nil
			}
			actions.listFunc = func(ctx context.Context, eventID uuid.UUID) ([]*model.AuditRecord, error) {
				return []*model.AuditRecord{{
					ID:        1,
					EventID:   event.ID,
					Outcome:   model.OutcomeSuccess,
					CreatedAt: time.Now(),
				}}, nil
			}

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/events/"+event.ID.String(), nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["actions"]).To(HaveLen(1))
		})

		It("returns 404 for an unknown event", func() {
			events.getFunc = func(ctx context.Context, id uuid.UUID) (*model.Event, error) {
				return nil, store.ErrNotFound
			}

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/events/"+uuid.NewString(), nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("rejects a malformed event id", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/events/not-a-uuid", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
