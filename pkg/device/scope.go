package device

import "sync"

// Releasable is any resource (Buffer, Stream, Kernel, Accelerator,
// page-lock scope) that owns something which must be torn down exactly
// once.
type Releasable interface {
	Release() error
}

// Scope tracks a set of Releasable resources acquired together and
// guarantees every one of them is released exactly once when the scope
// exits, regardless of which exit path (normal return, panic recovery
// upstream, or explicit Close) triggered it. Scopes nest: a child scope's
// resources are released before the parent releases its own, mirroring a
// device context's ownership graph (a context outlives the buffers and
// streams it parented, but not past its own release).
type Scope struct {
	mu        sync.Mutex
	resources []Releasable
	children  []*Scope
	closed    bool
}

// NewScope creates an empty, open scope.
func NewScope() *Scope {
	return &Scope{}
}

// Track registers r for release when the scope closes. Tracking a resource
// on a closed scope releases it immediately and returns the release error,
// if any, since there is no later point at which this scope will do it.
func (s *Scope) Track(r Releasable) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return r.Release()
	}
	s.resources = append(s.resources, r)
	s.mu.Unlock()
	return nil
}

// Child creates a nested scope whose Close is invoked before this scope
// releases its own resources.
func (s *Scope) Child() *Scope {
	child := NewScope()
	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()
	return child
}

// Close releases every tracked resource, innermost children first, in
// reverse acquisition order within each level. It is idempotent: a second
// Close is a no-op. The first release error encountered is returned, but
// every resource is still given a chance to release.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	children := s.children
	resources := s.resources
	s.children = nil
	s.resources = nil
	s.mu.Unlock()

	var firstErr error
	for _, c := range children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Closed reports whether Close has already run.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
