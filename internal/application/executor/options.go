package executor

import (
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
)

const (
	// DefaultRecursionLimit bounds the node steps of a single Run.
	DefaultRecursionLimit = 50
	// DefaultNodeTimeout bounds a single node invocation.
	DefaultNodeTimeout = 60 * time.Second
	// DefaultLockTTL bounds how long a distributed thread lock is held.
	DefaultLockTTL = 5 * time.Minute
)

// Option configures an Executor.
type Option func(*Executor)

// WithEventBus publishes thread events on bus.
func WithEventBus(bus ports.EventBus) Option {
	return func(e *Executor) { e.events = bus }
}

// WithMetrics records executor metrics.
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(e *Executor) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithLocker serializes writers of a thread across processes.
func WithLocker(locker ports.Locker, ttl time.Duration) Option {
	return func(e *Executor) {
		e.locker = locker
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithRecursionLimit overrides DefaultRecursionLimit.
func WithRecursionLimit(limit int) Option {
	return func(e *Executor) {
		if limit > 0 {
			e.recursionLimit = limit
		}
	}
}

// WithNodeTimeout overrides DefaultNodeTimeout.
func WithNodeTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.nodeTimeout = timeout
		}
	}
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	start      []string
	input      *domain.Update
	create     bool
	asNode     string
	transition TransitionFunc
}

// WithStart schedules nodes in addition to the checkpoint's pending frontier.
func WithStart(nodes ...string) RunOption {
	return func(c *runConfig) { c.start = append(c.start, nodes...) }
}

// WithInput merges update into the state before traversal. A thread without
// checkpoints is seeded from it.
func WithInput(update *domain.Update) RunOption {
	return func(c *runConfig) { c.input = update }
}

// WithCreate fails the Run with domain.ErrThreadExists when the thread
// already has a checkpoint.
func WithCreate() RunOption {
	return func(c *runConfig) { c.create = true }
}

// Transition is a state change applied at the start of a Run, before any
// node is scheduled.
type Transition struct {
	// Update is persisted as if written by the transition's node. Nil writes
	// nothing.
	Update *domain.Update
	// Start is scheduled in addition to the checkpoint's frontier.
	Start []string
	// Committed is called once Update is persisted.
	Committed func(state *domain.WorkflowState)
}

// TransitionFunc inspects the latest checkpoint of a thread while its lock is
// held. An error aborts the Run before anything is written. cp must not be
// modified.
type TransitionFunc func(cp *domain.Checkpoint) (*Transition, error)

// WithTransition applies fn to the thread's latest checkpoint as asNode. The
// check, the write and the traversal that follows form one critical section.
func WithTransition(asNode string, fn TransitionFunc) RunOption {
	return func(c *runConfig) {
		c.asNode = asNode
		c.transition = fn
	}
}
