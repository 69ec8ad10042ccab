package queue_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/queue"
)

type mockDeduper struct {
	markSeenFunc func(ctx context.Context, key string) (bool, error)
	seen         []string
}

func (m *mockDeduper) MarkSeen(ctx context.Context, key string) (bool, error) {
	m.seen = append(m.seen, key)
	return m.markSeenFunc(ctx, key)
}

type mockEventCreator struct {
	createFunc func(ctx context.Context, event *model.Event) error
	created    []*model.Event
}

func (m *mockEventCreator) Create(ctx context.Context, event *model.Event) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, event); err != nil {
			return err
		}
	}
	m.created = append(m.created, event)
	return nil
}

type mockEnqueuer struct {
	enqueueFunc func(ctx context.Context, eventID uuid.UUID, priority model.Priority, enqueuedAt time.Time) error
	enqueued    []uuid.UUID
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, eventID uuid.UUID, priority model.Priority, enqueuedAt time.Time) error {
	if m.enqueueFunc != nil {
		if err := m.enqueueFunc(ctx, eventID, priority, enqueuedAt); err != nil {
			return err
		}
	}
	m.enqueued = append(m.enqueued, eventID)
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		dedup     *mockDeduper
		creator   *mockEventCreator
		enqueuer  *mockEnqueuer
		publisher *queue.Publisher
		event     *model.Event
	)

	BeforeEach(func() {
		dedup = &mockDeduper{
			markSeenFunc: func(ctx context.Context, key string) (bool, error) {
				return true, nil
			},
		}
		creator = &mockEventCreator{}
		enqueuer = &mockEnqueuer{}
		publisher = queue.NewPublisher(dedup, creator, enqueuer)

		event = model.NewEvent(model.SourceTicketing, "ticket.created", model.PriorityHigh, map[string]any{
			"ticket_id": "T-42",
		})
		event.IdempotencyKey = "ticketing:ticket.created:T-42"
	})

	It("persists and enqueues a first-seen event", func() {
		result, err := publisher.Publish(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Duplicate).To(BeFalse())
		Expect(result.EventID).To(Equal(event.ID))
		Expect(creator.created).To(HaveLen(1))
		Expect(enqueuer.enqueued).To(Equal([]uuid.UUID{event.ID}))
	})

	It("drops a duplicate without persisting or enqueueing", func() {
		dedup.markSeenFunc = func(ctx context.Context, key string) (bool, error) {
			return false, nil
		}

		result, err := publisher.Publish(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Duplicate).To(BeTrue())
		Expect(creator.created).To(BeEmpty())
		Expect(enqueuer.enqueued).To(BeEmpty())
	})

	It("fails closed when the dedup store is unavailable", func() {
		dedup.markSeenFunc = func(ctx context.Context, key string) (bool, error) {
			return false, errors.New("connection refused")
		}

		_, err := publisher.Publish(context.Background(), event)
		Expect(err).To(HaveOccurred())
		Expect(creator.created).To(BeEmpty())
		Expect(enqueuer.enqueued).To(BeEmpty())
	})

	It("accepts an event without an idempotency key, skipping dedup", func() {
		event.IdempotencyKey = ""

		result, err := publisher.Publish(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Duplicate).To(BeFalse())
		Expect(dedup.seen).To(BeEmpty())
		Expect(creator.created).To(HaveLen(1))
		Expect(enqueuer.enqueued).To(Equal([]uuid.UUID{event.ID}))
	})

	It("does not enqueue when persistence fails", func() {
		creator.createFunc = func(ctx context.Context, event *model.Event) error {
			return errors.New("insert failed")
		}

		_, err := publisher.Publish(context.Background(), event)
		Expect(err).To(HaveOccurred())
		Expect(enqueuer.enqueued).To(BeEmpty())
	})
})
