package flow

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys read by the adaptive layer.
const (
	MetaEnvironment     = "environment"
	MetaPriority        = "priority"
	MetaTimeSensitivity = "time_sensitivity"
	MetaErrorHint       = "error_hint"
)

// StateRoutingHistory holds the []string of route keys chosen by Routers.
const StateRoutingHistory = "routing_history"

// Checkpoint is an advisory marker recorded during a run.
type Checkpoint struct {
	Name string
	Data any
	At   time.Time
}

// ExecutionContext carries identifiers, shared state, metadata and
// checkpoints for one pipeline invocation. It is passed by reference down a
// single call chain and must not be shared across unrelated pipelines.
//
// State is insertion ordered. Concurrent Parallel branches may write the same
// key; the last write wins.
type ExecutionContext struct {
	workflowID    string
	correlationID string
	sessionID     string
	now           func() time.Time

	mu          sync.RWMutex
	keys        []string
	state       map[string]any
	meta        map[string]string
	checkpoints []Checkpoint
}

// ContextOption configures a new ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithWorkflowID overrides the generated workflow id.
func WithWorkflowID(id string) ContextOption {
	return func(ec *ExecutionContext) { ec.workflowID = id }
}

// WithCorrelationID overrides the generated correlation id.
func WithCorrelationID(id string) ContextOption {
	return func(ec *ExecutionContext) { ec.correlationID = id }
}

// WithSessionID sets the optional session id.
func WithSessionID(id string) ContextOption {
	return func(ec *ExecutionContext) { ec.sessionID = id }
}

// WithMetadata seeds metadata tags such as environment or priority.
func WithMetadata(meta map[string]string) ContextOption {
	return func(ec *ExecutionContext) { maps.Copy(ec.meta, meta) }
}

// WithClock replaces the clock used to timestamp checkpoints.
func WithClock(now func() time.Time) ContextOption {
	return func(ec *ExecutionContext) {
		if now != nil {
			ec.now = now
		}
	}
}

// NewExecutionContext creates a context with fresh workflow and correlation ids.
func NewExecutionContext(opts ...ContextOption) *ExecutionContext {
	ec := &ExecutionContext{
		workflowID:    uuid.NewString(),
		correlationID: uuid.NewString(),
		now:           time.Now,
		state:         make(map[string]any),
		meta:          make(map[string]string),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

func (ec *ExecutionContext) WorkflowID() string    { return ec.workflowID }
func (ec *ExecutionContext) CorrelationID() string { return ec.correlationID }
func (ec *ExecutionContext) SessionID() string     { return ec.sessionID }

// Get returns the state value for key.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.state[key]
	return v, ok
}

// Set stores a state value. New keys are appended to the key order.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.setLocked(key, value)
}

func (ec *ExecutionContext) setLocked(key string, value any) {
	if _, ok := ec.state[key]; !ok {
		ec.keys = append(ec.keys, key)
	}
	ec.state[key] = value
}

// Delete removes a state key.
func (ec *ExecutionContext) Delete(key string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, ok := ec.state[key]; !ok {
		return
	}
	delete(ec.state, key)
	ec.keys = slices.DeleteFunc(ec.keys, func(k string) bool { return k == key })
}

// Keys returns state keys in insertion order.
func (ec *ExecutionContext) Keys() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return slices.Clone(ec.keys)
}

// AppendState appends v to the []any list stored at key. Lists of strings
// stored at key are kept as []string when v is a string.
func (ec *ExecutionContext) AppendState(key string, v any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	switch cur := ec.state[key].(type) {
	case []string:
		if s, ok := v.(string); ok {
			ec.setLocked(key, append(cur, s))
			return
		}
		list := make([]any, 0, len(cur)+1)
		for _, s := range cur {
			list = append(list, s)
		}
		ec.setLocked(key, append(list, v))
	case []any:
		ec.setLocked(key, append(cur, v))
	case nil:
		if s, ok := v.(string); ok {
			ec.setLocked(key, []string{s})
			return
		}
		ec.setLocked(key, []any{v})
	default:
		ec.setLocked(key, []any{cur, v})
	}
}

// Incr increments the integer counter at key and returns the new value.
func (ec *ExecutionContext) Incr(key string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	n, _ := ec.state[key].(int)
	n++
	ec.setLocked(key, n)
	return n
}

// Meta returns a metadata tag, or "" when unset.
func (ec *ExecutionContext) Meta(key string) string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.meta[key]
}

// SetMeta sets a metadata tag.
func (ec *ExecutionContext) SetMeta(key, value string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.meta[key] = value
}

// Metadata returns a copy of all metadata tags.
func (ec *ExecutionContext) Metadata() map[string]string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return maps.Clone(ec.meta)
}

// Checkpoint appends an advisory checkpoint. Checkpoints never affect control flow.
func (ec *ExecutionContext) Checkpoint(name string, data any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.checkpoints = append(ec.checkpoints, Checkpoint{Name: name, Data: data, At: ec.now()})
}

// Checkpoints returns a copy of the checkpoint list in append order.
func (ec *ExecutionContext) Checkpoints() []Checkpoint {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return slices.Clone(ec.checkpoints)
}

// Child returns a context sharing ids and a copy of metadata but with empty
// state and checkpoints.
func (ec *ExecutionContext) Child() *ExecutionContext {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return &ExecutionContext{
		workflowID:    ec.workflowID,
		correlationID: ec.correlationID,
		sessionID:     ec.sessionID,
		now:           ec.now,
		state:         make(map[string]any),
		meta:          maps.Clone(ec.meta),
	}
}

// Key is a typed accessor for a state entry.
type Key[T any] struct {
	Name string
}

// Read returns the typed value stored under key.
func Read[T any](ec *ExecutionContext, key Key[T]) (T, bool) {
	var zero T
	raw, ok := ec.Get(key.Name)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Write stores a typed value under key.
func Write[T any](ec *ExecutionContext, key Key[T], value T) {
	ec.Set(key.Name, value)
}
