package exception

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind is a failure category tag. Kinds form a hierarchy (a kind may have more
// than one parent) that classifiers walk to find the most specific registered rule.
type Kind string

// Built-in kinds.
const (
	KindError Kind = "Error" // root of the hierarchy

	KindConfiguration Kind = "Configuration"
	KindIllegalState  Kind = "IllegalState"
	KindInterrupted   Kind = "JobInterrupted"

	KindJobExecution               Kind = "JobExecution"
	KindDuplicateJobInstance       Kind = "DuplicateJobInstance"
	KindJobInstanceAlreadyComplete Kind = "JobInstanceAlreadyComplete"
	KindJobExecutionAlreadyRunning Kind = "JobExecutionAlreadyRunning"
	KindJobRestart                 Kind = "JobRestart"
	KindStartLimitExceeded         Kind = "StartLimitExceeded"
	KindUnexpectedJobExecution     Kind = "UnexpectedJobExecution"
	KindJobParametersInvalid       Kind = "JobParametersInvalid"
	KindNoSuchJob                  Kind = "NoSuchJob"
	KindNoSuchJobExecution         Kind = "NoSuchJobExecution"

	KindRepository               Kind = "Repository"
	KindOptimisticLockingFailure Kind = "OptimisticLockingFailure"

	KindItemStream     Kind = "ItemStream"
	KindItemRead       Kind = "ItemRead"
	KindItemProcess    Kind = "ItemProcess"
	KindItemWrite      Kind = "ItemWrite"
	KindTransient      Kind = "Transient"
	KindDataConversion Kind = "DataConversion"

	KindSkipLimitExceeded Kind = "SkipLimitExceeded"
	// KindChunkRolledBack marks a chunk whose commit failed and was undone. The step
	// metadata still matches the last committed chunk.
	KindChunkRolledBack Kind = "ChunkRolledBack"
	KindRetryExhausted    Kind = "RetryExhausted"
	KindTaskRejected      Kind = "TaskRejected"
	KindFlowExecution     Kind = "FlowExecution"
)

// Hierarchy is a registry of kinds and their parents.
type Hierarchy struct {
	mu      sync.RWMutex
	parents map[Kind][]Kind
	seq     map[Kind]int
}

// NewHierarchy returns a hierarchy containing only the root kind.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		parents: map[Kind][]Kind{KindError: nil},
		seq:     map[Kind]int{KindError: 0},
	}
}

// Register adds kind with the given parents. Every parent must already be registered,
// which keeps the hierarchy acyclic. A kind registered without parents hangs off KindError.
// Registering an existing kind again with the same parents is a no-op.
func (h *Hierarchy) Register(kind Kind, parents ...Kind) error {
	if kind == "" {
		return NewBatchError(KindConfiguration, "exception", "kind name cannot be empty", nil)
	}
	if len(parents) == 0 && kind != KindError {
		parents = []Kind{KindError}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range parents {
		if _, ok := h.parents[p]; !ok {
			return NewBatchErrorf(KindConfiguration, "exception", "parent kind '%s' of '%s' is not registered", p, kind)
		}
		if p == kind {
			return NewBatchErrorf(KindConfiguration, "exception", "kind '%s' cannot be its own parent", kind)
		}
	}
	if existing, ok := h.parents[kind]; ok {
		if sameKinds(existing, parents) {
			return nil
		}
		return NewBatchErrorf(KindConfiguration, "exception", "kind '%s' is already registered with parents %v", kind, existing)
	}
	h.parents[kind] = append([]Kind(nil), parents...)
	h.seq[kind] = len(h.seq)
	return nil
}

// MustRegister is Register that panics on error.
func (h *Hierarchy) MustRegister(kind Kind, parents ...Kind) {
	if err := h.Register(kind, parents...); err != nil {
		panic(err)
	}
}

// IsRegistered reports whether kind is known to the hierarchy.
func (h *Hierarchy) IsRegistered(kind Kind) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.parents[kind]
	return ok
}

// Kinds returns every registered kind in registration order.
func (h *Hierarchy) Kinds() []Kind {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Kind, 0, len(h.seq))
	for k := range h.seq {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return h.seq[out[i]] < h.seq[out[j]] })
	return out
}

// Distances returns every ancestor of kind (kind itself included, at distance 0)
// mapped to its shortest distance from kind. Unregistered kinds are treated as
// direct children of KindError.
func (h *Hierarchy) Distances(kind Kind) map[Kind]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dist := map[Kind]int{kind: 0}
	queue := []Kind{kind}
	if _, ok := h.parents[kind]; !ok && kind != KindError {
		dist[KindError] = 1
		return dist
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, p := range h.parents[k] {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = dist[k] + 1
			queue = append(queue, p)
		}
	}
	return dist
}

// IsA reports whether kind equals ancestor or descends from it.
func (h *Hierarchy) IsA(kind, ancestor Kind) bool {
	_, ok := h.Distances(kind)[ancestor]
	return ok
}

func sameKinds(a, b []Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DefaultHierarchy holds the built-in kinds. Applications register their own kinds here.
var DefaultHierarchy = NewHierarchy()

// RegisterKind registers kind in DefaultHierarchy.
func RegisterKind(kind Kind, parents ...Kind) error {
	return DefaultHierarchy.Register(kind, parents...)
}

// IsA reports whether kind descends from ancestor in DefaultHierarchy.
func IsA(kind, ancestor Kind) bool {
	return DefaultHierarchy.IsA(kind, ancestor)
}

type sentinel struct {
	kind      Kind
	prototype error
}

var (
	sentinelMu sync.RWMutex
	sentinels  []sentinel
)

// RegisterErrorType maps errors matching prototype (via errors.Is) to kind.
// It lets plain errors from third-party code take part in classification.
// Sentinels are consulted in registration order.
func RegisterErrorType(kind Kind, prototype error) {
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for kind: %s", kind))
	}
	if !DefaultHierarchy.IsRegistered(kind) {
		panic(fmt.Sprintf("kind %s is not registered", kind))
	}
	sentinelMu.Lock()
	defer sentinelMu.Unlock()
	sentinels = append(sentinels, sentinel{kind: kind, prototype: prototype})
}

// KindOf returns the kind carried by err. The outermost BatchError in the chain wins;
// otherwise registered sentinels are consulted; otherwise KindError is returned.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) && be.Kind != "" {
		return be.Kind
	}
	sentinelMu.RLock()
	defer sentinelMu.RUnlock()
	for _, s := range sentinels {
		if errors.Is(err, s.prototype) {
			return s.kind
		}
	}
	return KindError
}

// IsKind reports whether any failure in err's chain is of kind or a descendant of it.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, &BatchError{Kind: kind}) {
		return true
	}
	sentinelMu.RLock()
	defer sentinelMu.RUnlock()
	for _, s := range sentinels {
		if IsA(s.kind, kind) && errors.Is(err, s.prototype) {
			return true
		}
	}
	return false
}

func init() {
	h := DefaultHierarchy
	h.MustRegister(KindConfiguration)
	h.MustRegister(KindIllegalState)
	h.MustRegister(KindInterrupted)

	h.MustRegister(KindJobExecution)
	h.MustRegister(KindDuplicateJobInstance, KindJobExecution)
	h.MustRegister(KindJobInstanceAlreadyComplete, KindJobExecution)
	h.MustRegister(KindJobExecutionAlreadyRunning, KindJobExecution)
	h.MustRegister(KindJobRestart, KindJobExecution)
	h.MustRegister(KindStartLimitExceeded, KindJobRestart)
	h.MustRegister(KindUnexpectedJobExecution, KindJobExecution)
	h.MustRegister(KindJobParametersInvalid, KindJobExecution)
	h.MustRegister(KindNoSuchJob, KindJobExecution, KindConfiguration)
	h.MustRegister(KindNoSuchJobExecution, KindJobExecution)

	h.MustRegister(KindRepository)
	h.MustRegister(KindOptimisticLockingFailure, KindRepository)

	h.MustRegister(KindItemStream)
	h.MustRegister(KindItemRead, KindItemStream)
	h.MustRegister(KindItemProcess, KindItemStream)
	h.MustRegister(KindItemWrite, KindItemStream)
	h.MustRegister(KindTransient)
	h.MustRegister(KindDataConversion)

	h.MustRegister(KindSkipLimitExceeded)
	h.MustRegister(KindChunkRolledBack)
	h.MustRegister(KindRetryExhausted)
	h.MustRegister(KindFlowExecution)
	h.MustRegister(KindTaskRejected, KindFlowExecution)

	RegisterErrorType(KindOptimisticLockingFailure, ErrOptimisticLockingFailure)
	RegisterErrorType(KindInterrupted, context.Canceled)
	RegisterErrorType(KindInterrupted, context.DeadlineExceeded)
}
