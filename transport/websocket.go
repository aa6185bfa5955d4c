package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// closeTimeout bounds the close handshake write, not the peer's reply.
	closeTimeout = 5 * time.Second
)

var (
	ErrNotConnected     = errors.New("websocket not connected")
	ErrAlreadyConnected = errors.New("websocket already connected")
)

// Websocket is the production Transport: one gorilla/websocket connection
// delivering text messages. A Websocket is good for a single Connect/Close
// cycle.
type Websocket struct {
	url    string
	header http.Header
	log    *logrus.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cbs       Callbacks
}

func NewWebsocket(url string, header http.Header, log *logrus.Entry) *Websocket {
	if log == nil {
		log = logrus.WithField("pkg", "transport")
	}

	return &Websocket{
		url:    url,
		header: header,
		log:    log,
	}
}

func (w *Websocket) SetCallbacks(cbs Callbacks) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cbs = cbs
}

func (w *Websocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.connected {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	w.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		return errors.Wrapf(err, "unable to dial '%s'", w.url)
	}

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	cbs := w.cbs
	w.mu.Unlock()

	w.log.Debugf("websocket connected to '%s'", w.url)

	if cbs.OnOpen != nil {
		cbs.OnOpen()
	}

	go w.readLoop(conn)

	return nil
}

func (w *Websocket) Send(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected || w.conn == nil {
		return ErrNotConnected
	}

	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return errors.Wrap(err, "unable to write message")
	}

	return nil
}

// Close sends a close frame to the peer. OnClose fires from the read loop
// once the peer acknowledges (or the connection drops).
func (w *Websocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); err != nil {
		// handshake failed; tear the connection down and let the read loop
		// surface the closure
		return errors.Wrap(conn.Close(), "unable to close websocket")
	}

	return nil
}

func (w *Websocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.connected
}

func (w *Websocket) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.connected = false
			cbs := w.cbs
			w.mu.Unlock()

			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Debugf("websocket read failed: %s", err)

				if cbs.OnError != nil {
					cbs.OnError(err)
				}
			}

			if cbs.OnClose != nil {
				cbs.OnClose()
			}

			return
		}

		w.mu.Lock()
		cbs := w.cbs
		w.mu.Unlock()

		if cbs.OnMessage != nil {
			cbs.OnMessage(string(data))
		}
	}
}
