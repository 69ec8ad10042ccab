package tool

import (
	"context"
	"fmt"
	"time"
)

// LeaseTaker acquires and releases named leases.
type LeaseTaker interface {
	Acquire(ctx context.Context, name, holderID string) (bool, error)
	Release(ctx context.Context, name, holderID string) error
}

// Serialized wraps a tool whose backing client is not safe for concurrent
// use. Executions across all workers are serialized through a named lease;
// a worker that cannot get the lease in time reports a busy failure to the
// model instead of blocking the whole turn.
type Serialized struct {
	inner    Tool
	leases   LeaseTaker
	holderID string
	wait     time.Duration
	poll     time.Duration
}

func NewSerialized(inner Tool, leases LeaseTaker, holderID string, wait time.Duration) *Serialized {
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &Serialized{
		inner:    inner,
		leases:   leases,
		holderID: holderID,
		wait:     wait,
		poll:     200 * time.Millisecond,
	}
}

func (s *Serialized) Name() string        { return s.inner.Name() }
func (s *Serialized) Description() string { return s.inner.Description() }
func (s *Serialized) InputSchema() any    { return s.inner.InputSchema() }

func (s *Serialized) leaseName() string {
	return "tool:" + s.inner.Name()
}

func (s *Serialized) Execute(ctx context.Context, arguments string) (string, error) {
	deadline := time.Now().Add(s.wait)
	for {
		ok, err := s.leases.Acquire(ctx, s.leaseName(), s.holderID)
		if err != nil {
			return "", fmt.Errorf("serialize %s: %w", s.inner.Name(), err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("serialize %s: busy, try again later", s.inner.Name())
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.poll):
		}
	}
	defer s.leases.Release(context.WithoutCancel(ctx), s.leaseName(), s.holderID)

	return s.inner.Execute(ctx, arguments)
}
