package transaction

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
)

// UnboundReqID is the request id of the shared chain used by PolicyContinue.
const UnboundReqID = "unbound"

type chainKey struct{}

// chain is the state of one logical call chain. It is shared by pointer
// between every context derived from the one that created it.
type chain struct {
	reqID string
	seq   atomic.Int64

	mu    sync.RWMutex
	state map[string]any
}

func newChain(reqID string, state map[string]any) *chain {
	c := &chain{reqID: reqID, state: make(map[string]any, len(state))}
	maps.Copy(c.state, state)
	return c
}

func (c *chain) get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state[key]
}

func (c *chain) set(key string, value any) {
	c.mu.Lock()
	c.state[key] = value
	c.mu.Unlock()
}

func (c *chain) setAll(state map[string]any) {
	c.mu.Lock()
	maps.Copy(c.state, state)
	c.mu.Unlock()
}

// Store scopes chains to contexts and allocates Transactions under them.
type Store struct {
	registry *Registry
	unbound  *chain
}

// NewStore creates a Store reading its policy and sink from r. A nil
// registry means Default.
func NewStore(r *Registry) *Store {
	if r == nil {
		r = Default()
	}
	return &Store{registry: r, unbound: newChain(UnboundReqID, nil)}
}

// Registry returns the registry backing the store.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Bind returns a context carrying a new chain identified by reqID. Contexts
// already derived from ctx keep their previous chain.
func (s *Store) Bind(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, chainKey{}, newChain(reqID, nil))
}

// Run calls fn with a context carrying a fresh chain seeded with a copy of
// state. Concurrent Runs never observe each other's chain.
func (s *Store) Run(ctx context.Context, reqID string, state map[string]any, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, chainKey{}, newChain(reqID, state)))
}

// RunValue is Run for functions returning a value.
func RunValue[R any](ctx context.Context, s *Store, reqID string, state map[string]any, fn func(ctx context.Context) (R, error)) (R, error) {
	return fn(context.WithValue(ctx, chainKey{}, newChain(reqID, state)))
}

// IsBound reports whether ctx carries a chain.
func (s *Store) IsBound(ctx context.Context) bool {
	_, ok := ctx.Value(chainKey{}).(*chain)
	return ok
}

// ReqIDFrom returns the request id of the chain bound to ctx, if any. It
// ignores the unbound policy.
func ReqIDFrom(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(chainKey{}).(*chain); ok {
		return c.reqID, true
	}
	return "", false
}

// ReqID returns the request id of the active chain.
func (s *Store) ReqID(ctx context.Context) (string, error) {
	c, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	return c.reqID, nil
}

// Get reads key from the active chain's state. A missing key yields nil.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	c, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.get(key), nil
}

// Set writes key in the active chain's state.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	c, err := s.current(ctx)
	if err != nil {
		return err
	}
	c.set(key, value)
	return nil
}

// SetAll merges state into the active chain's state.
func (s *Store) SetAll(ctx context.Context, state map[string]any) error {
	c, err := s.current(ctx)
	if err != nil {
		return err
	}
	c.setAll(state)
	return nil
}

// Begin allocates a Transaction stamped with the active chain's request id
// and its next sequence number.
func (s *Store) Begin(ctx context.Context, module, typ, method string) (*Transaction, error) {
	c, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	txn := New(module, typ, method, c.reqID, c.seq.Add(1))
	return txn.Bind(s.registry), nil
}

func (s *Store) current(ctx context.Context) (*chain, error) {
	if c, ok := ctx.Value(chainKey{}).(*chain); ok {
		return c, nil
	}
	if s.registry.Policy() == PolicyError {
		return nil, ErrNotBound
	}
	return s.unbound, nil
}

// Result carries the outcome of an asynchronous call.
type Result[R any] struct {
	Value R
	Err   error
}

// Wrap turns fn into an entry point that runs each invocation under a new
// chain whose request id is extracted from the argument.
func Wrap[A, R any](s *Store, fn func(ctx context.Context, arg A) (R, error), extract func(arg A) string) func(ctx context.Context, arg A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		return RunValue(ctx, s, extract(arg), nil, func(ctx context.Context) (R, error) {
			return fn(ctx, arg)
		})
	}
}

// WrapAsync is Wrap for entry points that should not block the caller: each
// invocation runs on its own goroutine and delivers its Result on the
// returned channel.
func WrapAsync[A, R any](s *Store, fn func(ctx context.Context, arg A) (R, error), extract func(arg A) string) func(ctx context.Context, arg A) <-chan Result[R] {
	wrapped := Wrap(s, fn, extract)
	return func(ctx context.Context, arg A) <-chan Result[R] {
		out := make(chan Result[R], 1)
		go func() {
			v, err := wrapped(ctx, arg)
			out <- Result[R]{Value: v, Err: err}
		}()
		return out
	}
}
