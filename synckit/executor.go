package synckit

import (
	"context"
	"encoding/json"
)

// Request is one call to the storefront API.
type Request struct {
	Method   string
	Endpoint string
	Body     json.RawMessage

	// IdempotencyKey lets the server drop replays of an action it already
	// applied. The engine sets it to the action id.
	IdempotencyKey string
}

// Response is a successful reply. ServerVersion is 0 when the server did
// not report one.
type Response struct {
	Status        int
	Body          []byte
	ServerVersion int64
}

// RemoteExecutor performs requests against the remote source of truth.
// Implementations classify failures with errors.NewConnectivityError and
// errors.NewServerRejectedError so the engine can apply its retry policy.
type RemoteExecutor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// RemoteExecutorFunc adapts a function to RemoteExecutor.
type RemoteExecutorFunc func(ctx context.Context, req Request) (*Response, error)

func (f RemoteExecutorFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ConnectivityObserver reports whether the device can reach the network.
type ConnectivityObserver interface {
	IsOnline() bool

	// Subscribe calls fn on every change until ctx is done.
	Subscribe(ctx context.Context, fn func(online bool))
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool                        { return true }
func (alwaysOnline) Subscribe(context.Context, func(bool)) {}
