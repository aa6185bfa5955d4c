// Package options holds all available options for a telemetry session. Its
// other responsibility is to fill in defaults - validation is performed by
// the validate package.
package options

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultHeartbeatInterval matches the heart-beat value proposed in the
	// CONNECT frame.
	DefaultHeartbeatInterval = 10 * time.Second
)

type Options struct {
	// URL is the full websocket endpoint, including scheme and device query.
	URL string

	// AccessToken is a pre-authenticated bearer token. Refresh is the
	// caller's responsibility.
	AccessToken string

	// UserName is the account identity (usually an email address).
	UserName string

	// DeviceID identifies this client to the service. Generated when empty.
	DeviceID string

	// HeartbeatInterval controls the client-side heartbeat loop. Zero
	// disables the loop; inbound heartbeats are still echoed.
	HeartbeatInterval time.Duration

	// AckBatched causes each element of a batched MESSAGE frame to be
	// acknowledged individually. Off by default - the service has not been
	// observed to expect acks for batched deliveries.
	AckBatched bool

	// OnError is an observer hook for transport errors. No action is taken
	// on its behalf; reconnect policy is the caller's.
	OnError func(error)

	Log *logrus.Entry
}

// ApplyDefaults fills in a generated device id and a fallback logger.
func (o *Options) ApplyDefaults() {
	if o.DeviceID == "" {
		o.DeviceID = uuid.NewString()
	}

	if o.Log == nil {
		o.Log = logrus.WithField("pkg", "stomp")
	}
}
