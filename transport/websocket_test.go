package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/gomega"
)

// echoServer upgrades each request and echoes text messages until the client
// closes.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocket_lifecycle(t *testing.T) {
	g := NewGomegaWithT(t)

	srv := echoServer(t)
	defer srv.Close()

	opened := make(chan struct{}, 1)
	closed := make(chan struct{}, 1)
	received := make(chan string, 1)

	ws := NewWebsocket(wsURL(srv), nil, nil)
	ws.SetCallbacks(Callbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnClose:   func() { closed <- struct{}{} },
		OnMessage: func(msg string) { received <- msg },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.Expect(ws.Connect(ctx)).To(Succeed())
	g.Expect(opened).To(Receive())
	g.Expect(ws.Connected()).To(BeTrue())

	g.Expect(ws.Send("CONNECT\n\n\x00")).To(Succeed())
	g.Eventually(received).Should(Receive(Equal("CONNECT\n\n\x00")))

	g.Expect(ws.Close()).To(Succeed())
	g.Eventually(closed).Should(Receive())
	g.Eventually(ws.Connected).Should(BeFalse())
}

func TestWebsocket_sendBeforeConnect(t *testing.T) {
	g := NewGomegaWithT(t)

	ws := NewWebsocket("ws://localhost:0", nil, nil)

	g.Expect(ws.Send("x")).To(Equal(ErrNotConnected))
	g.Expect(ws.Close()).To(Equal(ErrNotConnected))
}

func TestWebsocket_dialFailure(t *testing.T) {
	g := NewGomegaWithT(t)

	ws := NewWebsocket("ws://127.0.0.1:1", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := ws.Connect(ctx)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("unable to dial"))
	g.Expect(ws.Connected()).To(BeFalse())
}

func TestWebsocket_serverDrop(t *testing.T) {
	g := NewGomegaWithT(t)

	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		// drop without a close handshake
		conn.Close()
	}))
	defer srv.Close()

	errored := make(chan error, 1)
	closed := make(chan struct{}, 1)

	ws := NewWebsocket(wsURL(srv), nil, nil)
	ws.SetCallbacks(Callbacks{
		OnError: func(err error) { errored <- err },
		OnClose: func() { closed <- struct{}{} },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.Expect(ws.Connect(ctx)).To(Succeed())

	g.Eventually(errored).Should(Receive())
	g.Eventually(closed).Should(Receive())
	g.Eventually(ws.Connected).Should(BeFalse())
}
