package pipeline_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/internal/guardrail"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/notify"
	"github.com/sukru-can1/the-agent/internal/pipeline"
	"github.com/sukru-can1/the-agent/internal/reason"
)

type mockClassifier struct {
	classifyFunc func(ctx context.Context, event *model.Event) (*model.Classification, error)
	called       bool
}

func (m *mockClassifier) Classify(ctx context.Context, event *model.Event) (*model.Classification, error) {
	m.called = true
	return m.classifyFunc(ctx, event)
}

type mockPlanner struct {
	planFunc func(ctx context.Context, event *model.Event, c *model.Classification) *model.Plan
	called   bool
}

func (m *mockPlanner) Plan(ctx context.Context, event *model.Event, c *model.Classification) *model.Plan {
	m.called = true
	if m.planFunc != nil {
		return m.planFunc(ctx, event, c)
	}
	return nil
}

type mockGate struct {
	evaluateFunc func(ctx context.Context, in guardrail.Input) (guardrail.Verdict, error)
}

func (m *mockGate) Evaluate(ctx context.Context, in guardrail.Input) (guardrail.Verdict, error) {
	if m.evaluateFunc != nil {
		return m.evaluateFunc(ctx, in)
	}
	return guardrail.Verdict{Allowed: true}, nil
}

type mockReasoner struct {
	runFunc func(ctx context.Context, event *model.Event, c *model.Classification, p *model.Plan) (*reason.Result, error)
	called  bool
}

func (m *mockReasoner) Run(ctx context.Context, event *model.Event, c *model.Classification, p *model.Plan) (*reason.Result, error) {
	m.called = true
	if m.runFunc != nil {
		return m.runFunc(ctx, event, c, p)
	}
	return &reason.Result{FinalText: "handled", TurnsUsed: 1, ModelID: "test-model"}, nil
}

type mockAudit struct {
	records []*model.AuditRecord
	err     error
}

func (m *mockAudit) Record(ctx context.Context, rec *model.AuditRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

type mockNotifier struct {
	notifications []notify.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, n notify.Notification) {
	m.notifications = append(m.notifications, n)
}

var _ = Describe("Runner", func() {
	var (
		classifier *mockClassifier
		planner    *mockPlanner
		gate       *mockGate
		reasoner   *mockReasoner
		audit      *mockAudit
		notifier   *mockNotifier
		runner     *pipeline.Runner
		event      *model.Event
	)

	BeforeEach(func() {
		classifier = &mockClassifier{
			classifyFunc: func(ctx context.Context, event *model.Event) (*model.Classification, error) {
				return &model.Classification{
					Category:   "support",
					Urgency:    model.PriorityMedium,
					Complexity: model.ComplexitySimple,
				}, nil
			},
		}
		planner = &mockPlanner{}
		gate = &mockGate{}
		reasoner = &mockReasoner{}
		audit = &mockAudit{}
		notifier = &mockNotifier{}
		runner = pipeline.NewRunner(classifier, planner, gate, reasoner, audit, notifier)

		event = model.NewEvent(model.SourceTicketing, "ticket.created", model.PriorityMedium, map[string]any{
			"ticket_id": "T-42",
		})
	})

	It("completes a simple event with a single success audit record", func() {
		err := runner.Run(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomeSuccess))
		Expect(audit.records[0].EventID).To(Equal(event.ID))
		Expect(audit.records[0].ModelUsed).To(Equal("test-model"))
		Expect(planner.called).To(BeFalse())
		Expect(notifier.notifications).To(BeEmpty())
	})

	It("plans for non-simple events", func() {
		classifier.classifyFunc = func(ctx context.Context, event *model.Event) (*model.Classification, error) {
			return &model.Classification{Category: "billing", Complexity: model.ComplexityComplex}, nil
		}

		err := runner.Run(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(planner.called).To(BeTrue())
	})

	It("fails an event with an empty payload before classification", func() {
		event.Payload = nil

		err := runner.Run(context.Background(), event)
		stageErr := pipeline.AsStageError(err)
		Expect(stageErr.Kind).To(Equal(pipeline.KindFatal))
		Expect(stageErr.Stage).To(Equal(pipeline.StageClassifying))
		Expect(classifier.called).To(BeFalse())
		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomeFailed))
	})

	It("treats classifier provider failure as fatal", func() {
		classifier.classifyFunc = func(ctx context.Context, event *model.Event) (*model.Classification, error) {
			return nil, errors.New("invalid api key")
		}

		err := runner.Run(context.Background(), event)
		stageErr := pipeline.AsStageError(err)
		Expect(stageErr.Kind).To(Equal(pipeline.KindFatal))
		Expect(stageErr.Stage).To(Equal(pipeline.StageClassifying))
		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomeFailed))
		Expect(reasoner.called).To(BeFalse())
	})

	It("treats classifier timeout as retryable", func() {
		classifier.classifyFunc = func(ctx context.Context, event *model.Event) (*model.Classification, error) {
			return nil, fmt.Errorf("classify: %w", llm.ErrTimeout)
		}

		err := runner.Run(context.Background(), event)
		Expect(pipeline.AsStageError(err).Kind).To(Equal(pipeline.KindRetryable))
	})

	It("finalizes a denied event as blocked and notifies, without reasoning", func() {
		gate.evaluateFunc = func(ctx context.Context, in guardrail.Input) (guardrail.Verdict, error) {
			return guardrail.Verdict{Allowed: false, Rule: "monetary_threshold", Reason: "amount too high"}, nil
		}

		err := runner.Run(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(reasoner.called).To(BeFalse())
		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomeBlocked))
		Expect(audit.records[0].Details).To(HaveKeyWithValue("blocked_by", "monetary_threshold"))
		Expect(notifier.notifications).To(HaveLen(1))
		Expect(notifier.notifications[0].Kind).To(Equal("blocked"))
	})

	It("treats guardrail store failure as retryable without reasoning", func() {
		gate.evaluateFunc = func(ctx context.Context, in guardrail.Input) (guardrail.Verdict, error) {
			return guardrail.Verdict{}, errors.New("redis: connection refused")
		}

		err := runner.Run(context.Background(), event)
		stageErr := pipeline.AsStageError(err)
		Expect(stageErr.Kind).To(Equal(pipeline.KindRetryable))
		Expect(stageErr.Stage).To(Equal(pipeline.StageGuardrail))
		Expect(reasoner.called).To(BeFalse())
	})

	It("treats reasoning failure as retryable and still audits", func() {
		reasoner.runFunc = func(ctx context.Context, event *model.Event, c *model.Classification, p *model.Plan) (*reason.Result, error) {
			return nil, errors.New("provider 500")
		}

		err := runner.Run(context.Background(), event)
		stageErr := pipeline.AsStageError(err)
		Expect(stageErr.Kind).To(Equal(pipeline.KindRetryable))
		Expect(stageErr.Stage).To(Equal(pipeline.StageReasoning))
		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomeFailed))
	})

	It("records an exhausted reasoning run as partial", func() {
		reasoner.runFunc = func(ctx context.Context, event *model.Event, c *model.Classification, p *model.Plan) (*reason.Result, error) {
			return &reason.Result{FinalText: "partial summary", TurnsUsed: 10, Exhausted: true, ModelID: "test-model"}, nil
		}

		err := runner.Run(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomePartial))
	})

	It("still completes the run when the audit write fails", func() {
		audit.err = errors.New("insert failed")
		err := runner.Run(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
	})
})
