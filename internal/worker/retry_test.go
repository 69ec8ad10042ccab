package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/notify"
	"github.com/sukru-can1/the-agent/internal/pipeline"
	"github.com/sukru-can1/the-agent/internal/worker"
)

type capturingNotifier struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

func (n *capturingNotifier) Notify(ctx context.Context, notification notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

var _ = Describe("RetryManager", func() {
	var (
		q        *memQueue
		events   *memEvents
		dlq      *memDeadLetters
		history  *memHistory
		notifier *capturingNotifier
		manager  *worker.RetryManager
		event    *model.Event
	)

	retryableErr := &pipeline.StageError{
		Stage: pipeline.StageReasoning,
		Kind:  pipeline.KindRetryable,
		Err:   errors.New("provider 500"),
	}

	BeforeEach(func() {
		q = &memQueue{}
		dlq = &memDeadLetters{}
		history = newMemHistory()
		notifier = &capturingNotifier{}

		event = model.NewEvent(model.SourceEmail, "email.received", model.PriorityMedium, map[string]any{
			"subject": "refund request",
		})
		events = newMemEvents(event)
		manager = worker.NewRetryManager(q, events, dlq, history, notifier, 3)
	})

	It("re-enqueues below the retry budget", func() {
		manager.HandleFailure(context.Background(), event, retryableErr)

		Expect(events.status(event.ID)).To(Equal(model.StatusPending))
		Expect(q.len()).To(Equal(1))
		Expect(dlq.all()).To(BeEmpty())

		trail, err := history.Get(context.Background(), event.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(trail).To(HaveLen(1))
		Expect(trail[0].Retry).To(Equal(1))
	})

	It("dead-letters at the retry budget with the full error trail", func() {
		event.RetryCount = 2
		events = newMemEvents(event)
		manager = worker.NewRetryManager(q, events, dlq, history, notifier, 3)
		Expect(history.Append(context.Background(), event.ID, model.ErrorEntry{Retry: 1, Error: "first"})).To(Succeed())
		Expect(history.Append(context.Background(), event.ID, model.ErrorEntry{Retry: 2, Error: "second"})).To(Succeed())

		manager.HandleFailure(context.Background(), event, retryableErr)

		Expect(events.status(event.ID)).To(Equal(model.StatusDeadLetter))
		Expect(q.len()).To(BeZero())

		records := dlq.all()
		Expect(records).To(HaveLen(1))
		Expect(records[0].OriginalEventID).To(Equal(event.ID))
		Expect(records[0].RetryCount).To(Equal(3))
		Expect(records[0].ErrorHistory).To(HaveLen(3))

		Expect(notifier.notifications).To(HaveLen(1))
		Expect(notifier.notifications[0].Kind).To(Equal("dead_letter"))

		trail, err := history.Get(context.Background(), event.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(trail).To(BeEmpty())
	})

	It("fails fatally without consuming the queue or the DLQ", func() {
		manager.HandleFailure(context.Background(), event, &pipeline.StageError{
			Stage: pipeline.StageClassifying,
			Kind:  pipeline.KindFatal,
			Err:   errors.New("bad credentials"),
		})

		Expect(events.status(event.ID)).To(Equal(model.StatusFailed))
		Expect(q.len()).To(BeZero())
		Expect(dlq.all()).To(BeEmpty())

		// The fatal failure still consumed a retry unit.
		count, err := events.IncrementRetry(context.Background(), event.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})

	Describe("Backoff", func() {
		It("doubles per attempt and caps", func() {
			Expect(manager.Backoff(1)).To(Equal(30 * time.Second))
			Expect(manager.Backoff(2)).To(Equal(time.Minute))
			Expect(manager.Backoff(3)).To(Equal(2 * time.Minute))
			Expect(manager.Backoff(6)).To(Equal(15 * time.Minute))
			Expect(manager.Backoff(20)).To(Equal(15 * time.Minute))
		})
	})
})
