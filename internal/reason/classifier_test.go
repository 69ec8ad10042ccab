package reason_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/reason"
)

var _ = Describe("Classifier", func() {
	It("uses heuristics when no client is configured", func() {
		classifier := reason.NewClassifier(nil)
		event := model.NewEvent(model.SourceTicketing, "ticket.created", model.PriorityLow, map[string]any{
			"subject": "URGENT: site is down",
		})

		classification, err := classifier.Classify(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(classification.Category).To(Equal("support"))
		Expect(classification.Urgency).To(Equal(model.PriorityHigh))
		Expect(classification.Complexity).To(Equal(model.ComplexitySimple))
	})

	It("parses a JSON classification from the model", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return &llm.AgentResponse{Content: "Here you go:\n```json\n" +
					`{"category":"billing","urgency":3,"complexity":"complex",` +
					`"involves_financial":true,"needs_response":true,"confidence":0.92,` +
					`"detected_language":"de"}` + "\n```"}, nil
			},
		}

		classifier := reason.NewClassifier(client)
		event := model.NewEvent(model.SourceEmail, "email.received", model.PriorityMedium, map[string]any{
			"subject": "Rechnung falsch",
		})

		classification, err := classifier.Classify(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(classification.Category).To(Equal("billing"))
		Expect(classification.Urgency).To(Equal(model.PriorityHigh))
		Expect(classification.Complexity).To(Equal(model.ComplexityComplex))
		Expect(classification.InvolvesFinancial).To(BeTrue())
		Expect(classification.DetectedLanguage).To(Equal("de"))
	})

	It("falls back to heuristics on malformed model output", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return &llm.AgentResponse{Content: "I think this is a billing issue."}, nil
			},
		}

		classifier := reason.NewClassifier(client)
		event := model.NewEvent(model.SourceReviews, "review.posted", model.PriorityLow, nil)

		classification, err := classifier.Classify(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(classification.Category).To(Equal("review"))
	})

	It("propagates provider errors", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return nil, errors.New("rate limited")
			},
		}

		classifier := reason.NewClassifier(client)
		event := model.NewEvent(model.SourceEmail, "email.received", model.PriorityMedium, nil)

		_, err := classifier.Classify(context.Background(), event)
		Expect(err).To(HaveOccurred())
	})

	It("normalizes out-of-range urgency and complexity", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return &llm.AgentResponse{Content: `{"category":"other","urgency":42,"complexity":"extreme"}`}, nil
			},
		}

		classifier := reason.NewClassifier(client)
		event := model.NewEvent(model.SourceChat, "message.received", model.PriorityMedium, nil)

		classification, err := classifier.Classify(context.Background(), event)
		Expect(err).NotTo(HaveOccurred())
		Expect(classification.Urgency).To(Equal(model.PriorityMedium))
		Expect(classification.Complexity).To(Equal(model.ComplexityModerate))
	})
})

var _ = Describe("Planner", func() {
	It("skips simple events", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				Fail("planner should not call the model for simple events")
				return nil, nil
			},
		}

		planner := reason.NewPlanner(client)
		event := model.NewEvent(model.SourceChat, "message.received", model.PriorityMedium, nil)
		plan := planner.Plan(context.Background(), event, &model.Classification{Complexity: model.ComplexitySimple})
		Expect(plan).To(BeNil())
	})

	It("returns a parsed plan for complex events", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return &llm.AgentResponse{Content: `{"intended_actions":["refund"],` +
					`"tools_needed":["crm_update"],"reasoning":"customer overcharged","risks":["double refund"]}`}, nil
			},
		}

		planner := reason.NewPlanner(client)
		event := model.NewEvent(model.SourceEmail, "email.received", model.PriorityHigh, nil)
		plan := planner.Plan(context.Background(), event, &model.Classification{
			Category:   "billing",
			Complexity: model.ComplexityComplex,
		})
		Expect(plan).NotTo(BeNil())
		Expect(plan.IntendedActions).To(Equal([]string{"refund"}))
		Expect(plan.ToolsNeeded).To(Equal([]string{"crm_update"}))
	})

	It("degrades to no plan when the model fails", func() {
		client := &mockAgentClient{
			chatFunc: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return nil, errors.New("timeout")
			},
		}

		planner := reason.NewPlanner(client)
		event := model.NewEvent(model.SourceEmail, "email.received", model.PriorityHigh, nil)
		plan := planner.Plan(context.Background(), event, &model.Classification{Complexity: model.ComplexityModerate})
		Expect(plan).To(BeNil())
	})
})
