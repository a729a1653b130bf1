package abort

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Registry routes abort intent to the run currently streaming for a resource.
// At most one listener is installed per resource; a newer Listen replaces it.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]*Signal
	nextID    uint64
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		listeners: make(map[string]*Signal),
		logger:    logger.With(zap.String("component", "abort_registry")),
	}
}

// Listen installs a listener for resourceID and returns it once installed.
// A previously installed listener is evicted; it keeps its current flag.
func (r *Registry) Listen(resourceID string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sig := &Signal{
		id:         r.nextID,
		resourceID: resourceID,
		registry:   r,
		done:       make(chan struct{}),
	}
	if prev, ok := r.listeners[resourceID]; ok {
		r.logger.Debug("replacing abort listener",
			zap.String("resource_id", resourceID),
			zap.Uint64("previous", prev.id),
			zap.Uint64("listener", sig.id),
		)
	}
	r.listeners[resourceID] = sig
	return sig
}

// RequestAbort delivers abort intent to the listener installed for resourceID.
// It reports whether a listener received it. Intent is not queued when no
// listener exists.
func (r *Registry) RequestAbort(resourceID string) bool {
	r.mu.Lock()
	sig, ok := r.listeners[resourceID]
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("no abort listener", zap.String("resource_id", resourceID))
		return false
	}
	sig.Trigger()
	r.logger.Info("abort requested",
		zap.String("resource_id", resourceID),
		zap.Uint64("listener", sig.id),
	)
	return true
}

// Listening reports whether a listener is installed for resourceID.
func (r *Registry) Listening(resourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listeners[resourceID]
	return ok
}

// Len returns the number of installed listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *Registry) remove(sig *Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.listeners[sig.resourceID]; ok && cur == sig {
		delete(r.listeners, sig.resourceID)
		return true
	}
	return false
}

// Signal is one run's abort listener.
type Signal struct {
	id         uint64
	resourceID string
	registry   *Registry

	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// ResourceID returns the resource this signal listens on.
func (s *Signal) ResourceID() string { return s.resourceID }

// Requested reports whether abort intent has been delivered.
func (s *Signal) Requested() bool { return s.requested.Load() }

// Done is closed when abort intent is delivered.
func (s *Signal) Done() <-chan struct{} { return s.done }

// Stop uninstalls the listener if it is still the installed one for its
// resource. It reports whether this call removed it.
func (s *Signal) Stop() bool {
	return s.registry.remove(s)
}

// Trigger delivers abort intent to this signal directly, whether or not it is
// still the installed listener.
func (s *Signal) Trigger() {
	s.requested.Store(true)
	s.once.Do(func() { close(s.done) })
}
