package dispatch

import (
	"context"
	"sync"

	"github.com/soundrise/notify/notification"
)

// Transport performs the actual network delivery for one channel. The engine
// tolerates arbitrary failure and latency from implementations: every attempt
// runs under a per-attempt timeout and failures are classified as transient
// unless wrapped with ErrPermanent.
type Transport interface {
	Deliver(ctx context.Context, n notification.Notification) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, n notification.Notification) error

func (f TransportFunc) Deliver(ctx context.Context, n notification.Notification) error {
	return f(ctx, n)
}

// Registry maps channels to their transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[notification.Channel]Transport
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[notification.Channel]Transport),
	}
}

// Register binds a transport to a channel, replacing any previous binding.
func (r *Registry) Register(ch notification.Channel, t Transport) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[ch] = t
}

// Get returns the transport for a channel.
func (r *Registry) Get(ch notification.Channel) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[ch]
	return t, ok
}

// Channels returns the channels with a registered transport.
func (r *Registry) Channels() []notification.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chs := make([]notification.Channel, 0, len(r.transports))
	for ch := range r.transports {
		chs = append(chs, ch)
	}
	return chs
}
