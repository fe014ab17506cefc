package transaction

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nextcodebr/nxcd-apm/pkg/sink"
)

// UnboundPolicy controls what happens when chain state is accessed with no
// active chain.
type UnboundPolicy int32

const (
	// PolicyContinue falls back to the shared unbound chain.
	PolicyContinue UnboundPolicy = iota
	// PolicyError fails with ErrNotBound.
	PolicyError
)

// String returns the configuration name of the policy.
func (p UnboundPolicy) String() string {
	switch p {
	case PolicyContinue:
		return "continue"
	case PolicyError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int32(p))
	}
}

// ParseUnboundPolicy parses "continue" or "error".
func ParseUnboundPolicy(name string) (UnboundPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "continue":
		return PolicyContinue, nil
	case "error":
		return PolicyError, nil
	default:
		return PolicyContinue, fmt.Errorf("unknown unbound policy: %q", name)
	}
}

type sinkHolder struct {
	sink sink.Sink[*Transaction]
}

// Registry holds the process-wide bindings read when a Transaction starts
// or completes. Every field is swapped atomically; a swap affects
// completions that happen after it, never Transactions already completed.
type Registry struct {
	sink    atomic.Pointer[sinkHolder]
	policy  atomic.Int32
	mapping atomic.Uint32
	noise   atomic.Pointer[[]string]
}

// NewRegistry creates a registry with a discarding sink, PolicyContinue and
// DefaultErrorMapping.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Use(nil)
	r.SetPolicy(PolicyContinue)
	r.SetErrorMapping(DefaultErrorMapping)
	r.SetNoiseFrames(DefaultNoiseFrames)
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the shared process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Use installs s as the active sink. A nil sink installs BlackHole.
func (r *Registry) Use(s sink.Sink[*Transaction]) {
	if s == nil {
		s = sink.BlackHole[*Transaction]()
	}
	r.sink.Store(&sinkHolder{sink: s})
}

// Sink returns the active sink.
func (r *Registry) Sink() sink.Sink[*Transaction] {
	return r.sink.Load().sink
}

// SetPolicy sets the unbound-access policy.
func (r *Registry) SetPolicy(p UnboundPolicy) {
	r.policy.Store(int32(p))
}

// Policy returns the unbound-access policy.
func (r *Registry) Policy() UnboundPolicy {
	return UnboundPolicy(r.policy.Load())
}

// SetErrorMapping sets the flags applied by Failed.
func (r *Registry) SetErrorMapping(m ErrorMapping) {
	r.mapping.Store(uint32(m))
}

// ErrorMapping returns the flags applied by Failed.
func (r *Registry) ErrorMapping() ErrorMapping {
	return ErrorMapping(r.mapping.Load())
}

// SetNoiseFrames replaces the substring denylist used by FilterFrames.
func (r *Registry) SetNoiseFrames(frames []string) {
	cp := append([]string(nil), frames...)
	r.noise.Store(&cp)
}

// NoiseFrames returns the substring denylist used by FilterFrames.
func (r *Registry) NoiseFrames() []string {
	return *r.noise.Load()
}
