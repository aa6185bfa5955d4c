// Package transport provides the duplex connection the stomp layer runs
// over. The protocol core never touches the socket directly - it only sees
// this interface and its lifecycle callbacks.
package transport

import (
	"context"
)

// Callbacks are the four lifecycle hooks a Transport delivers events
// through. All callbacks fire from the transport's read goroutine and must
// not block for long.
type Callbacks struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(error)
	OnMessage func(string)
}

type Transport interface {
	// SetCallbacks must be called before Connect.
	SetCallbacks(Callbacks)

	// Connect establishes the connection and fires OnOpen on success.
	Connect(ctx context.Context) error

	// Send writes one text message. Sends after closure fail.
	Send(text string) error

	// Close initiates closure; OnClose fires once the peer confirms.
	Close() error

	Connected() bool
}
