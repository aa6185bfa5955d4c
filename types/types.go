package types

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	SessionNotConnectedErr     = errors.New("session not connected")
	SessionAlreadyConnectedErr = errors.New("session already connected")
)

// StatusEvent is the normalized representation of one inbound push
// notification. It is passed to callbacks by value and is only valid for the
// duration of the call.
type StatusEvent struct {
	Command    string
	ReceivedAt time.Time // UTC

	// MessageTimestamp is the service-side timestamp from the message body
	// (epoch millis); zero when the body carries none.
	MessageTimestamp int64

	VIN     string
	Service string

	// Topic is the destination the message arrived on.
	Topic string

	// Data is the message payload: the body's "a" element when present,
	// otherwise the whole body.
	Data gjson.Result
}

// EventFunc receives one StatusEvent per invocation. Its return value is
// ignored; callbacks that need to block should spawn their own goroutine.
type EventFunc func(StatusEvent)

// Payload is the decoded body of a MESSAGE frame: either a single event or a
// batch, resolved once at decode time.
type Payload struct {
	Single *StatusEvent
	Batch  []StatusEvent
}

func (p Payload) IsBatch() bool {
	return p.Batch != nil
}
