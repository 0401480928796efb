package backup

import (
	"sync"
	"time"

	"github.com/rekapu/go-rekapu/service/persist"
)

// OperationStatus describes where a long-running operation is in its life
type OperationStatus string

const (
	OperationRunning   OperationStatus = "running"
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

// Operation is one caller-visible progress record, polled by ID rather than
// pushed, so the transaction's internal suspension points stay decoupled
// from the reporting channel
type Operation struct {
	ID      persist.DBID    `json:"id"`
	Kind    string          `json:"kind"`
	Status  OperationStatus `json:"status"`
	Percent int             `json:"percent"`
	Message string          `json:"message,omitempty"`
	Started persist.Millis  `json:"started"`
	Updated persist.Millis  `json:"updated"`
}

// ProgressRegistry is an explicitly constructed, explicitly-lifetimed record
// of in-flight and recently finished operations. Finished records expire
// after the configured TTL; expiry is enforced lazily on access.
type ProgressRegistry struct {
	mu  sync.Mutex
	ops map[persist.DBID]Operation
	ttl time.Duration
	now func() time.Time
}

// NewProgressRegistry creates a registry whose finished records live for ttl
func NewProgressRegistry(ttl time.Duration) *ProgressRegistry {
	return &ProgressRegistry{
		ops: map[persist.DBID]Operation{},
		ttl: ttl,
		now: time.Now,
	}
}

// Begin registers a new running operation and returns its ID
func (p *ProgressRegistry) Begin(kind string) persist.DBID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep()

	id := persist.GenerateID()
	now := persist.Millis(p.now().UnixMilli())
	p.ops[id] = Operation{
		ID:      id,
		Kind:    kind,
		Status:  OperationRunning,
		Started: now,
		Updated: now,
	}
	return id
}

// Update advances a running operation's progress
func (p *ProgressRegistry) Update(id persist.DBID, percent int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	op, ok := p.ops[id]
	if !ok || op.Status != OperationRunning {
		return
	}
	op.Percent = percent
	op.Message = message
	op.Updated = persist.Millis(p.now().UnixMilli())
	p.ops[id] = op
}

// Finish marks an operation terminal; a non-nil err marks it failed
func (p *ProgressRegistry) Finish(id persist.DBID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	op, ok := p.ops[id]
	if !ok {
		return
	}
	if err != nil {
		op.Status = OperationFailed
		op.Message = err.Error()
	} else {
		op.Status = OperationSucceeded
		op.Percent = 100
	}
	op.Updated = persist.Millis(p.now().UnixMilli())
	p.ops[id] = op
}

// Get returns an operation by ID
func (p *ProgressRegistry) Get(id persist.DBID) (Operation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep()

	op, ok := p.ops[id]
	return op, ok
}

// sweep drops finished records older than the TTL; callers hold the lock
func (p *ProgressRegistry) sweep() {
	cutoff := persist.Millis(p.now().Add(-p.ttl).UnixMilli())
	for id, op := range p.ops {
		if op.Status != OperationRunning && op.Updated < cutoff {
			delete(p.ops, id)
		}
	}
}
