package stomp

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"github.com/relistan/go-director"
	"github.com/sirupsen/logrus"

	"github.com/fleetlink/fleetlink/options"
	"github.com/fleetlink/fleetlink/stats"
	"github.com/fleetlink/fleetlink/transport"
	"github.com/fleetlink/fleetlink/types"
	"github.com/fleetlink/fleetlink/validate"
)

const (
	AcceptVersion = "1.2"

	// HeartBeatValue proposes 10s heartbeats in both directions.
	HeartBeatValue = "10000,10000"

	// AckDestination is the fixed path message acknowledgements are posted
	// to. The spelling is the service's own.
	AckDestination = "/app/messageRecieved"

	subIDPrefix = "sub-"
)

// Subscription binds a destination to a callback. One callback per
// destination; re-subscribing overwrites.
type Subscription struct {
	ID          int
	Destination string
	Callback    types.EventFunc
}

// Session manages one STOMP session over a websocket transport: the
// connect/disconnect state machine, the subscription registry and outbound
// frame transmission. One Session per logical connection; a session that has
// been disconnected (or whose connect was cancelled) should be discarded and
// rebuilt.
type Session struct {
	opts      *options.Options
	transport transport.Transport
	log       *logrus.Entry

	mu        sync.Mutex
	connected bool
	subs      map[string]*Subscription
	order     []string
	hbLooper  director.Looper

	// sendMu serializes all transport writes so that outbound frame order
	// matches call order.
	sendMu sync.Mutex

	connectedCh   chan struct{}
	connectedOnce sync.Once
	closedCh      chan struct{}
	closedOnce    sync.Once
}

// NewSession fills in option defaults, validates them and registers the
// session's callbacks on the transport. Network IO does not start until
// Connect.
func NewSession(opts *options.Options, t transport.Transport) (*Session, error) {
	if opts == nil {
		return nil, validate.ErrEmptyOptions
	}

	opts.ApplyDefaults()

	if err := validate.SessionOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	if t == nil {
		return nil, validate.ErrMissingTransport
	}

	s := &Session{
		opts:        opts,
		transport:   t,
		log:         opts.Log,
		subs:        make(map[string]*Subscription),
		connectedCh: make(chan struct{}),
		closedCh:    make(chan struct{}),
	}

	t.SetCallbacks(transport.Callbacks{
		OnOpen:    s.onOpen,
		OnClose:   s.onClose,
		OnError:   s.onError,
		OnMessage: s.onMessage,
	})

	return s, nil
}

// Connect opens the transport and blocks until the service answers the
// CONNECT frame with CONNECTED, or ctx is cancelled. The session imposes no
// timeout of its own - a lost CONNECTED frame blocks until ctx fires.
// Cancelling leaves the session in an undefined state; build a fresh one.
func (s *Session) Connect(ctx context.Context) error {
	if s.Connected() {
		return types.SessionAlreadyConnectedErr
	}

	errCh := make(chan error, 1)

	go func() {
		if err := s.transport.Connect(ctx); err != nil {
			errCh <- errors.Wrap(err, "unable to open transport")
		}
	}()

	select {
	case <-ctx.Done():
		return errors.New("context cancelled before session connected")
	case err := <-errCh:
		return err
	case <-s.connectedCh:
	}

	s.startHeartbeat()

	s.log.Debug("session connected")

	return nil
}

// Disconnect unsubscribes every active destination in registry order,
// transmits DISCONNECT, closes the transport and blocks until the transport
// confirms closure or ctx is cancelled.
func (s *Session) Disconnect(ctx context.Context) error {
	if !s.Connected() {
		return types.SessionNotConnectedErr
	}

	s.stopHeartbeat()

	for _, destination := range s.Destinations() {
		if err := s.Unsubscribe(destination); err != nil {
			return errors.Wrap(err, "unable to unsubscribe during disconnect")
		}
	}

	if err := s.transmit(CommandDisconnect, nil, nil); err != nil {
		return errors.Wrap(err, "unable to transmit DISCONNECT frame")
	}

	if err := s.transport.Close(); err != nil {
		return errors.Wrap(err, "unable to close transport")
	}

	select {
	case <-s.closedCh:
	case <-ctx.Done():
		return errors.New("context cancelled before transport closed; session should be discarded")
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	return nil
}

// Subscribe transmits a SUBSCRIBE frame for destination and records cb in
// the registry. Subscription ids are unique and strictly increasing within
// the session. Re-subscribing an active destination overwrites its callback
// silently.
func (s *Session) Subscribe(destination string, cb types.EventFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID()

	headers := []Header{
		{Key: "id", Value: fmt.Sprintf("%s%d", subIDPrefix, id)},
		{Key: "destination", Value: destination},
		{Key: "deviceId", Value: s.opts.DeviceID},
	}

	if err := s.transmit(CommandSubscribe, headers, nil); err != nil {
		return errors.Wrapf(err, "unable to subscribe to '%s'", destination)
	}

	if _, ok := s.subs[destination]; !ok {
		s.order = append(s.order, destination)
	}

	s.subs[destination] = &Subscription{
		ID:          id,
		Destination: destination,
		Callback:    cb,
	}

	return nil
}

// Unsubscribe transmits an UNSUBSCRIBE frame for destination and removes it
// from the registry. Unknown destinations are not an error: the frame is
// sent without an id header and removal is a no-op.
func (s *Session) Unsubscribe(destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var headers []Header

	if sub, ok := s.subs[destination]; ok {
		headers = append(headers, Header{Key: "id", Value: fmt.Sprintf("%s%d", subIDPrefix, sub.ID)})
	}

	if err := s.transmit(CommandUnsubscribe, headers, nil); err != nil {
		return errors.Wrapf(err, "unable to unsubscribe from '%s'", destination)
	}

	delete(s.subs, destination)

	for i, d := range s.order {
		if d == destination {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return nil
}

// Send transmits a SEND frame to destination with any extra headers and a
// body.
func (s *Session) Send(destination string, headers []Header, body string) error {
	headers = append(headers, Header{Key: "destination", Value: destination})

	return s.transmit(CommandSend, headers, &body)
}

// SendHeartbeat transmits the bare line-feed keep-alive.
func (s *Session) SendHeartbeat() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.transport.Send(Heartbeat); err != nil {
		return errors.Wrap(err, "unable to send heartbeat")
	}

	stats.Incr(stats.HeartbeatsSent, 1)

	return nil
}

// Ack posts a message-received acknowledgement for messageID (and vin, when
// known) to the ack destination.
func (s *Session) Ack(messageID, vin string) error {
	var headers []Header

	if vin != "" {
		headers = append(headers, Header{Key: "vin", Value: vin})
	}

	headers = append(headers,
		Header{Key: "device", Value: s.opts.DeviceID},
		Header{Key: "content-type", Value: "application/json;charset=UTF-8"},
	)

	body := fmt.Sprintf(`{"a": "%s"}`, messageID)

	if err := s.Send(AckDestination, headers, body); err != nil {
		return errors.Wrapf(err, "unable to ack message '%s'", messageID)
	}

	stats.Incr(stats.AcksSent, 1)

	return nil
}

// Connected reports whether a CONNECTED frame has been received and no
// disconnect has happened since.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Destinations returns the active destinations in registry order.
func (s *Session) Destinations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.order))
	copy(out, s.order)

	return out
}

func (s *Session) transmit(command Command, headers []Header, body *string) error {
	raw := Marshal(&Frame{Command: command, Headers: headers, Body: body})

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.transport.Send(raw); err != nil {
		return errors.Wrap(err, "unable to send frame")
	}

	stats.Incr(stats.FramesSent, 1)

	return nil
}

// onOpen fires once the websocket is established; it transmits the CONNECT
// frame. The session is not connected until CONNECTED comes back.
func (s *Session) onOpen() {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		// URL was validated at construction
		s.log.Errorf("unable to parse session URL: %s", err)
		return
	}

	headers := []Header{
		{Key: "host", Value: u.Hostname()},
		{Key: "accept-version", Value: AcceptVersion},
		{Key: "heart-beat", Value: HeartBeatValue},
		{Key: "deviceId", Value: s.opts.DeviceID},
		{Key: "Authorization", Value: "Bearer " + s.opts.AccessToken},
		{Key: "userName", Value: s.opts.UserName},
	}

	if err := s.transmit(CommandConnect, headers, nil); err != nil {
		s.log.Errorf("unable to transmit CONNECT frame: %s", err)
	}
}

// onClose treats every closure as a hard disconnect: the registry is cleared
// and the connected flag dropped unconditionally.
func (s *Session) onClose() {
	s.mu.Lock()
	s.subs = make(map[string]*Subscription)
	s.order = nil
	s.connected = false
	s.mu.Unlock()

	s.stopHeartbeat()

	s.closedOnce.Do(func() {
		close(s.closedCh)
	})

	s.log.Info("session disconnected")
}

// onError observes transport errors; no reconnect is attempted here. Policy
// belongs to the caller via Options.OnError.
func (s *Session) onError(err error) {
	stats.Incr(stats.TransportErrors, 1)

	s.log.Errorf("transport error: %s", err)

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Session) markConnected() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.connectedOnce.Do(func() {
		close(s.connectedCh)
	})
}

// nextSubID allocates max(existing)+1, or 1 for an empty registry. Callers
// must hold s.mu.
func (s *Session) nextSubID() int {
	max := 0

	for _, sub := range s.subs {
		if sub.ID > max {
			max = sub.ID
		}
	}

	return max + 1
}

func (s *Session) startHeartbeat() {
	if s.opts.HeartbeatInterval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hbLooper != nil {
		return
	}

	s.hbLooper = director.NewTimedLooper(director.FOREVER, s.opts.HeartbeatInterval, make(chan error, 1))

	go func(l director.Looper) {
		l.Loop(func() error {
			if err := s.SendHeartbeat(); err != nil {
				s.log.Warnf("unable to send heartbeat: %s", err)
			}

			return nil
		})
	}(s.hbLooper)
}

func (s *Session) stopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hbLooper != nil {
		s.hbLooper.Quit()
		s.hbLooper = nil
	}
}
