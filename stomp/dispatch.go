package stomp

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/fleetlink/fleetlink/stats"
	"github.com/fleetlink/fleetlink/types"
	"github.com/fleetlink/fleetlink/util"
)

// onMessage is invoked by the transport once per inbound websocket message.
// Parse and dispatch failures are logged and dropped; they never take the
// session down.
func (s *Session) onMessage(raw string) {
	stats.Incr(stats.FramesReceived, 1)

	if IsHeartbeat(raw) {
		stats.Incr(stats.HeartbeatsReceived, 1)

		s.log.Debug("heartbeat <<<>>>")

		if err := s.SendHeartbeat(); err != nil {
			s.log.Warnf("unable to echo heartbeat: %s", err)
		}

		return
	}

	f, err := Parse(raw)
	if err != nil {
		stats.Incr(stats.ParseErrors, 1)

		s.log.Warnf("dropping unparseable frame: %s", err)

		return
	}

	switch f.Command {
	case CommandConnected:
		s.markConnected()
	case CommandMessage:
		s.handleMessage(f)
	default:
		s.log.Debugf("ignoring inbound '%s' frame", f.Command)
	}
}

// handleMessage decodes a MESSAGE frame body and routes the resulting
// event(s) to the destination's callback. Single events are acknowledged;
// batched elements are not unless Options.AckBatched is set.
func (s *Session) handleMessage(f *Frame) {
	destination := f.Header("destination")

	if f.Body == nil {
		s.log.Warnf("dropping MESSAGE frame with no body from '%s'", destination)
		return
	}

	payload, err := s.decodePayload(f)
	if err != nil {
		stats.Incr(stats.ParseErrors, 1)

		s.log.Warnf("dropping MESSAGE frame from '%s': %s", destination, err)

		return
	}

	s.mu.Lock()
	sub, ok := s.subs[destination]
	s.mu.Unlock()

	if !ok {
		stats.Incr(stats.UnknownDestinations, 1)

		s.log.Warnf("no subscription for destination '%s'; dropping message", destination)

		return
	}

	if payload.IsBatch() {
		for _, event := range payload.Batch {
			sub.Callback(event)
			stats.Incr(stats.EventsDispatched, 1)

			if s.opts.AckBatched {
				if err := s.Ack(f.Header("message-id"), event.VIN); err != nil {
					s.log.Warnf("unable to ack batched message: %s", err)
				}
			}
		}

		return
	}

	sub.Callback(*payload.Single)
	stats.Incr(stats.EventsDispatched, 1)

	if err := s.Ack(f.Header("message-id"), payload.Single.VIN); err != nil {
		s.log.Warnf("unable to ack message '%s': %s", f.Header("message-id"), err)
	}
}

// decodePayload strips non-printable characters from the body and resolves
// its shape once: a JSON array becomes a batch with one event per element in
// array order, anything else is a single event.
func (s *Session) decodePayload(f *Frame) (*types.Payload, error) {
	body := util.StripNonPrintable(*f.Body)

	if !gjson.Valid(body) {
		return nil, errors.New("body is not valid JSON")
	}

	parsed := gjson.Parse(body)

	if parsed.IsArray() {
		elements := parsed.Array()
		batch := make([]types.StatusEvent, 0, len(elements))

		for _, element := range elements {
			batch = append(batch, s.newStatusEvent(f, element))
		}

		return &types.Payload{Batch: batch}, nil
	}

	event := s.newStatusEvent(f, parsed)

	return &types.Payload{Single: &event}, nil
}

func (s *Session) newStatusEvent(f *Frame, body gjson.Result) types.StatusEvent {
	data := body

	if a := body.Get("a"); a.Exists() {
		data = a
	}

	return types.StatusEvent{
		Command:          string(f.Command),
		ReceivedAt:       time.Now().UTC(),
		MessageTimestamp: body.Get("t").Int(),
		VIN:              body.Get("v").String(),
		Service:          body.Get("st").String(),
		Topic:            f.Header("destination"),
		Data:             data,
	}
}
