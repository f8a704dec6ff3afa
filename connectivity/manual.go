package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// Manual is a ConnectivityObserver driven by the host application, for
// platforms that already expose a network status callback.
type Manual struct {
	online atomic.Bool
	logger *slog.Logger

	mu   sync.Mutex
	subs []subscriber
}

var _ synckit.ConnectivityObserver = (*Manual)(nil)

func NewManual(online bool) *Manual {
	m := &Manual{logger: logging.WithComponent(logging.Component("connectivity")).Logger}
	m.online.Store(online)
	return m
}

func (m *Manual) IsOnline() bool { return m.online.Load() }

func (m *Manual) Subscribe(ctx context.Context, fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, subscriber{ctx: ctx, fn: fn})
}

// Set records the new state. Subscribers are called only on a change.
func (m *Manual) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	notify(&m.mu, &m.subs, online, m.logger)
}
