package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
)

// KeyChange is the payload of a change notification.
type KeyChange struct {
	Key string `json:"key"`
	// Op is "write" or "delete".
	Op string `json:"op"`
}

// KeyListener follows one LISTEN/NOTIFY channel. pq.Listener reconnects on
// its own; the channel is re-subscribed by the driver after a reconnect.
type KeyListener struct {
	channel  string
	logger   *slog.Logger
	listener *pq.Listener
	closed   int32 // atomic

	keepalive time.Duration
}

// NewKeyListener prepares a listener on channel. Nothing is received until
// Listen is called.
func NewKeyListener(connectionString, channel string, logger *slog.Logger, reconnect time.Duration) (*KeyListener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	kl := &KeyListener{
		channel:   channel,
		logger:    logger.With("channel", channel),
		keepalive: 90 * time.Second,
	}
	kl.listener = pq.NewListener(connectionString, reconnect, 12*reconnect, kl.eventCallback)
	return kl, nil
}

func (kl *KeyListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		kl.logger.Info("Connected to PostgreSQL for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		kl.logger.Warn("Disconnected from PostgreSQL", "error", err)
	case pq.ListenerEventReconnected:
		kl.logger.Info("Reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		kl.logger.Warn("Connection attempt failed", "error", err)
	}
}

// Listen subscribes to the channel and calls fn for every notification
// until ctx is done or Close is called.
func (kl *KeyListener) Listen(ctx context.Context, fn func(KeyChange)) error {
	if atomic.LoadInt32(&kl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	if err := kl.listener.Listen(kl.channel); err != nil {
		return fmt.Errorf("failed to listen to channel %s: %w", kl.channel, err)
	}
	kl.logger.Info("Listening for key changes")

	ticker := time.NewTicker(kl.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-kl.listener.Notify:
			if !ok {
				return nil
			}
			// nil is sent after a reconnect; changes may have been missed
			if n == nil {
				kl.logger.Warn("Notifications may have been lost during reconnect")
				continue
			}
			var change KeyChange
			if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
				kl.logger.Error("Failed to parse notification payload", "payload", n.Extra, "error", err)
				continue
			}
			fn(change)
		case <-ticker.C:
			go func() {
				if err := kl.listener.Ping(); err != nil {
					kl.logger.Warn("Ping failed", "error", err)
				}
			}()
		}
	}
}

// Close shuts down the listener. It is safe to call more than once.
func (kl *KeyListener) Close() error {
	if !atomic.CompareAndSwapInt32(&kl.closed, 0, 1) {
		return nil
	}
	return kl.listener.Close()
}
