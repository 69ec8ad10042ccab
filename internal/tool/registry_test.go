package tool_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sukru-can1/the-agent/internal/tool"
)

type fakeTool struct {
	name        string
	executeFunc func(ctx context.Context, arguments string) (string, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake " + t.name }
func (t *fakeTool) InputSchema() any    { return map[string]any{"type": "object"} }

func (t *fakeTool) Execute(ctx context.Context, arguments string) (string, error) {
	if t.executeFunc != nil {
		return t.executeFunc(ctx, arguments)
	}
	return "ok", nil
}

var _ = Describe("Registry", func() {
	var registry *tool.Registry

	BeforeEach(func() {
		registry = tool.NewRegistry()
	})

	It("registers and executes a tool", func() {
		Expect(registry.Register(&fakeTool{name: "lookup_ticket"})).To(Succeed())

		result, err := registry.Execute(context.Background(), "lookup_ticket", `{}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("ok"))
	})

	It("rejects duplicate registration", func() {
		Expect(registry.Register(&fakeTool{name: "lookup_ticket"})).To(Succeed())
		Expect(registry.Register(&fakeTool{name: "lookup_ticket"})).NotTo(Succeed())
	})

	It("errors on unknown tools", func() {
		_, err := registry.Execute(context.Background(), "no_such_tool", `{}`)
		Expect(err).To(HaveOccurred())
	})

	It("reflects deregistration", func() {
		Expect(registry.Register(&fakeTool{name: "lookup_ticket"})).To(Succeed())
		registry.Deregister("lookup_ticket")

		Expect(registry.Len()).To(BeZero())
		_, err := registry.Execute(context.Background(), "lookup_ticket", `{}`)
		Expect(err).To(HaveOccurred())
	})

	It("returns definitions sorted by name", func() {
		Expect(registry.Register(&fakeTool{name: "send_reply"})).To(Succeed())
		Expect(registry.Register(&fakeTool{name: "create_task"})).To(Succeed())
		Expect(registry.Register(&fakeTool{name: "lookup_ticket"})).To(Succeed())

		defs := registry.Definitions()
		Expect(defs).To(HaveLen(3))
		Expect(defs[0].Name).To(Equal("create_task"))
		Expect(defs[1].Name).To(Equal("lookup_ticket"))
		Expect(defs[2].Name).To(Equal("send_reply"))
	})
})

type fakeLeases struct {
	mu     sync.Mutex
	held   map[string]string
	denied bool
}

func newFakeLeases() *fakeLeases {
	return &fakeLeases{held: map[string]string{}}
}

func (l *fakeLeases) Acquire(ctx context.Context, name, holderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied {
		return false, nil
	}
	if _, taken := l.held[name]; taken {
		return false, nil
	}
	l.held[name] = holderID
	return true, nil
}

func (l *fakeLeases) Release(ctx context.Context, name, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] != holderID {
		return errors.New("not held")
	}
	delete(l.held, name)
	return nil
}

var _ = Describe("Serialized", func() {
	It("executes under the lease and releases it afterwards", func() {
		leases := newFakeLeases()
		var heldDuringExec bool
		inner := &fakeTool{
			name: "crm_update",
			executeFunc: func(ctx context.Context, arguments string) (string, error) {
				leases.mu.Lock()
				_, heldDuringExec = leases.held["tool:crm_update"]
				leases.mu.Unlock()
				return "done", nil
			},
		}

		wrapped := tool.NewSerialized(inner, leases, "worker-1", time.Second)
		result, err := wrapped.Execute(context.Background(), `{}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("done"))
		Expect(heldDuringExec).To(BeTrue())
		Expect(leases.held).To(BeEmpty())
	})

	It("reports busy when the lease cannot be acquired in time", func() {
		leases := newFakeLeases()
		leases.denied = true

		wrapped := tool.NewSerialized(&fakeTool{name: "crm_update"}, leases, "worker-1", 50*time.Millisecond)
		_, err := wrapped.Execute(context.Background(), `{}`)
		Expect(err).To(MatchError(ContainSubstring("busy")))
	})
})
