package transaction

import (
	"sync"
	"time"
)

// Status is the completion status of a Transaction.
type Status string

const (
	// StatusSuccess marks a call that returned normally.
	StatusSuccess Status = "success"
	// StatusError marks a call that failed.
	StatusError Status = "error"
)

// FieldChange is the before/after pair of one mutated field.
type FieldChange struct {
	Before any `json:"before,omitempty" bson:"before,omitempty"`
	After  any `json:"after,omitempty" bson:"after,omitempty"`
}

// Transition records one field mutation as {field: {before, after}}.
type Transition map[string]FieldChange

// Transaction is one recorded instrumented call.
type Transaction struct {
	Module      string       `json:"module" bson:"module"`
	Type        string       `json:"type" bson:"type"`
	Method      string       `json:"method" bson:"method"`
	Seq         int64        `json:"seq" bson:"seq"`
	ReqID       string       `json:"reqId" bson:"reqId"`
	Input       any          `json:"input,omitempty" bson:"input,omitempty"`
	Output      any          `json:"output,omitempty" bson:"output,omitempty"`
	Error       any          `json:"error,omitempty" bson:"error,omitempty"`
	Started     *time.Time   `json:"started,omitempty" bson:"started,omitempty"`
	Finished    *time.Time   `json:"finished,omitempty" bson:"finished,omitempty"`
	Took        *int64       `json:"took,omitempty" bson:"took,omitempty"` // milliseconds
	Status      Status       `json:"status,omitempty" bson:"status,omitempty"`
	Transitions []Transition `json:"transitions,omitempty" bson:"transitions,omitempty"`

	registry *Registry
	mu       sync.Mutex
	closed   bool
}

// New creates a Transaction outside of any chain. Store.Begin is the usual
// constructor; New is for callers that manage identity themselves.
func New(module, typ, method, reqID string, seq int64) *Transaction {
	return &Transaction{
		Module: module,
		Type:   typ,
		Method: method,
		ReqID:  reqID,
		Seq:    seq,
	}
}

// Bind sets the registry consulted at completion. Without it the Default
// registry is used.
func (t *Transaction) Bind(r *Registry) *Transaction {
	t.registry = r
	return t
}

// Commence records the start time and the input snapshot. Names and args
// are zipped into [{name: value}, ...] when names are known; with no names
// the raw args are stored; with no args the input stays unset.
func (t *Transaction) Commence(names []string, args []any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Started != nil {
		return ErrAlreadyCommenced
	}
	if t.closed {
		return ErrClosed
	}

	switch {
	case len(args) == 0:
	case len(names) > 0:
		input := make([]map[string]any, len(names))
		for i, name := range names {
			var v any
			if i < len(args) {
				v = args[i]
			}
			input[i] = map[string]any{name: v}
		}
		t.Input = input
	default:
		t.Input = args
	}

	now := time.Now()
	t.Started = &now
	return nil
}

// End completes the Transaction successfully and hands it to the active
// sink. A nil output is not recorded.
func (t *Transaction) End(output any, transitions ...Transition) error {
	return t.complete(StatusSuccess, output, nil, transitions)
}

// Failed completes the Transaction with a failure, mapped according to the
// registry's ErrorMapping, and hands it to the active sink.
func (t *Transaction) Failed(failure any, transitions ...Transition) error {
	reg := t.reg()
	mapped := mapFailure(failure, reg.ErrorMapping(), reg.NoiseFrames())
	return t.complete(StatusError, nil, mapped, transitions)
}

// Closed reports whether End or Failed has been called.
func (t *Transaction) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transaction) complete(status Status, output, failure any, transitions []Transition) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true

	if len(transitions) > 0 {
		t.Transitions = transitions
	}
	if output != nil {
		t.Output = output
	}
	if failure != nil {
		t.Error = failure
	}

	end := time.Now()
	t.Finished = &end
	if t.Started != nil {
		took := end.Sub(*t.Started).Milliseconds()
		t.Took = &took
	}
	t.Status = status
	t.mu.Unlock()

	t.reg().Sink().Accept(t)
	return nil
}

func (t *Transaction) reg() *Registry {
	if t.registry != nil {
		return t.registry
	}
	return Default()
}

// Copy returns a detached copy of the recorded fields. Slices and maps in
// payload fields are shared with the original.
func (t *Transaction) Copy() *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	return &Transaction{
		Module:      t.Module,
		Type:        t.Type,
		Method:      t.Method,
		Seq:         t.Seq,
		ReqID:       t.ReqID,
		Input:       t.Input,
		Output:      t.Output,
		Error:       t.Error,
		Started:     t.Started,
		Finished:    t.Finished,
		Took:        t.Took,
		Status:      t.Status,
		Transitions: t.Transitions,
		registry:    t.registry,
		closed:      t.closed,
	}
}
