package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/internal/guardrail"
	"github.com/sukru-can1/the-agent/internal/http/handler"
	"github.com/sukru-can1/the-agent/internal/model"
)

const testAPIKey = "test-key"

var _ = Describe("AdminHandler", func() {
	var (
		queueCtl    *mockQueueController
		deadLetters *mockDeadLetterAdmin
		publisher   *mockPublisher
		router      *gin.Engine
	)

	adminReq := func(method, path string, body []byte) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("X-API-Key", testAPIKey)
		router.ServeHTTP(w, req)
		return w
	}

	var events *mockEventReader

	BeforeEach(func() {
		queueCtl = &mockQueueController{depth: 7}
		deadLetters = &mockDeadLetterAdmin{unresolved: 2}
		publisher = &mockPublisher{}
		events = &mockEventReader{}

		h := handler.NewAdminHandler(queueCtl, deadLetters, publisher, events)
		router = gin.New()
		admin := router.Group("/admin", handler.RequireAPIKey(testAPIKey))
		admin.GET("/queue", h.QueueStatus)
		admin.POST("/queue/pause", h.PauseQueue)
		admin.POST("/queue/resume", h.ResumeQueue)
		admin.POST("/events/:id/approve", h.ApproveEvent)
		admin.POST("/dead-letters/:id/retry", h.RetryDeadLetter)
		admin.POST("/dead-letters/:id/resolve", h.ResolveDeadLetter)
	})

	It("rejects requests without the API key", func() {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/queue", nil)
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects a wrong API key", func() {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/queue", nil)
		req.Header.Set("X-API-Key", "wrong")
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("reports queue status", func() {
		w := adminReq(http.MethodGet, "/admin/queue", nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["depth"]).To(BeEquivalentTo(7))
		Expect(resp["paused"]).To(BeFalse())
		Expect(resp["dead_letters"]).To(BeEquivalentTo(2))
	})

	It("pauses and resumes the queue", func() {
		Expect(adminReq(http.MethodPost, "/admin/queue/pause", nil).Code).To(Equal(http.StatusOK))
		Expect(queueCtl.pauses).To(Equal(1))
		Expect(adminReq(http.MethodPost, "/admin/queue/resume", nil).Code).To(Equal(http.StatusOK))
		Expect(queueCtl.resumes).To(Equal(1))
	})

	Describe("RetryDeadLetter", func() {
		rec := &model.DeadLetterRecord{
			ID:              42,
			OriginalEventID: uuid.New(),
			Source:          model.SourceEmail,
			EventType:       "email.received",
			Priority:        model.PriorityMedium,
			Payload:         map[string]any{"subject": "hi"},
			RetryCount:      3,
			CreatedAt:       time.Now(),
		}

		BeforeEach(func() {
			deadLetters.getFunc = func(ctx context.Context, id int64) (*model.DeadLetterRecord, error) {
				copied := *rec
				return &copied, nil
			}
		})

		It("re-publishes the event with a fresh idempotency key and resolves the record", func() {
			w := adminReq(http.MethodPost, "/admin/dead-letters/42/retry", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			Expect(publisher.published).To(HaveLen(1))
			republished := publisher.published[0]
			Expect(republished.Source).To(Equal(model.SourceEmail))
			Expect(republished.RetryCount).To(BeZero())
			Expect(republished.IdempotencyKey).To(HavePrefix(fmt.Sprintf("dlq-retry:%d:", rec.ID)))
			Expect(deadLetters.resolved).To(Equal([]int64{42}))
		})

		It("refuses to retry a resolved record", func() {
			now := time.Now()
			deadLetters.getFunc = func(ctx context.Context, id int64) (*model.DeadLetterRecord, error) {
				copied := *rec
				copied.ResolvedAt = &now
				return &copied, nil
			}

			w := adminReq(http.MethodPost, "/admin/dead-letters/42/retry", nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(publisher.published).To(BeEmpty())
		})
	})

	Describe("ApproveEvent", func() {
		It("re-publishes a blocked event with the approval marker", func() {
			original := model.NewEvent(model.SourceEmail, "email.received", model.PriorityMedium, map[string]any{
				"subject": "large refund",
			})
			original.Status = model.StatusCompleted
			events.getFunc = func(ctx context.Context, id uuid.UUID) (*model.Event, error) {
				Expect(id).To(Equal(original.ID))
				return original, nil
			}

			body, _ := json.Marshal(map[string]any{"approved_by": "alice"})
			w := adminReq(http.MethodPost, "/admin/events/"+original.ID.String()+"/approve", body)
			Expect(w.Code).To(Equal(http.StatusOK))

			Expect(publisher.published).To(HaveLen(1))
			republished := publisher.published[0]
			Expect(republished.ID).NotTo(Equal(original.ID))
			Expect(republished.Payload).To(HaveKeyWithValue(guardrail.ApprovalKey, "alice"))
			Expect(republished.Payload).To(HaveKeyWithValue("subject", "large refund"))
		})

		It("refuses in-flight events", func() {
			original := model.NewEvent(model.SourceEmail, "email.received", model.PriorityMedium, nil)
			original.Status = model.StatusProcessing
			events.getFunc = func(ctx context.Context, id uuid.UUID) (*model.Event, error) {
				return original, nil
			}

			body, _ := json.Marshal(map[string]any{"approved_by": "alice"})
			w := adminReq(http.MethodPost, "/admin/events/"+original.ID.String()+"/approve", body)
			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(publisher.published).To(BeEmpty())
		})
	})

	It("resolves a dead letter", func() {
		body, _ := json.Marshal(map[string]any{"resolved_by": "alice"})
		w := adminReq(http.MethodPost, "/admin/dead-letters/42/resolve", body)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(deadLetters.resolved).To(Equal([]int64{42}))
	})
})
