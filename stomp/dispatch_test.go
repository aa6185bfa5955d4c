package stomp

import (
	"context"
	"fmt"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/fleetlink/fleetlink/types"
)

func messageFrame(destination, messageID, body string) string {
	return fmt.Sprintf("MESSAGE\ndestination:%s\nmessage-id:%s\n\n%s\x00", destination, messageID, body)
}

func ackFrames(frames []string) []string {
	var out []string

	for _, raw := range frames {
		if strings.Contains(raw, AckDestination) {
			out = append(out, raw)
		}
	}

	return out
}

func TestDispatch_heartbeatEcho(t *testing.T) {
	g := NewGomegaWithT(t)

	_, ft := newConnectedSession(g)

	before := len(ft.frames())

	for i := 0; i < 3; i++ {
		ft.cbs.OnMessage(Heartbeat)
	}

	frames := ft.frames()[before:]
	g.Expect(frames).To(HaveLen(3))

	for _, raw := range frames {
		g.Expect(raw).To(Equal(Heartbeat))
	}
}

func TestDispatch_connectedFlipsFlag(t *testing.T) {
	g := NewGomegaWithT(t)

	ft := &fakeTransport{}

	s, err := NewSession(testOptions(), ft)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(s.Connected()).To(BeFalse())

	ft.cbs.OnMessage(connectedFrame)

	g.Expect(s.Connected()).To(BeTrue())
}

func TestDispatch_singleMessage(t *testing.T) {
	g := NewGomegaWithT(t)

	s, ft := newConnectedSession(g)

	var events []types.StatusEvent

	g.Expect(s.Subscribe("/user/topic/VIN.VIN123", func(e types.StatusEvent) {
		events = append(events, e)
	})).To(Succeed())

	body := `{"t": 1690000000, "v": "VIN123", "st": "REON", "a": {"k": 1}}`
	ft.cbs.OnMessage(messageFrame("/user/topic/VIN.VIN123", "msg-42", body))

	g.Expect(events).To(HaveLen(1))

	event := events[0]
	g.Expect(event.Command).To(Equal(string(CommandMessage)))
	g.Expect(event.VIN).To(Equal("VIN123"))
	g.Expect(event.Service).To(Equal("REON"))
	g.Expect(event.MessageTimestamp).To(Equal(int64(1690000000)))
	g.Expect(event.Topic).To(Equal("/user/topic/VIN.VIN123"))
	g.Expect(event.Data.Get("k").Int()).To(Equal(int64(1)))
	g.Expect(event.ReceivedAt.IsZero()).To(BeFalse())

	acks := ackFrames(ft.frames())
	g.Expect(acks).To(HaveLen(1))

	ack, err := Parse(acks[0])
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(ack.Command).To(Equal(CommandSend))
	g.Expect(ack.Header("vin")).To(Equal("VIN123"))
	g.Expect(ack.Header("device")).To(Equal("dev-1"))
	g.Expect(ack.Header("content-type")).To(Equal("application/json;charset=UTF-8"))
	g.Expect(ack.Header("destination")).To(Equal(AckDestination))
	g.Expect(ack.Body).ToNot(BeNil())
	g.Expect(*ack.Body).To(Equal(`{"a": "msg-42"}`))
}

func TestDispatch_dataFallsBackToWholeBody(t *testing.T) {
	g := NewGomegaWithT(t)

	s, ft := newConnectedSession(g)

	var events []types.StatusEvent

	g.Expect(s.Subscribe("/user/topic/DEVICE.dev-1", func(e types.StatusEvent) {
		events = append(events, e)
	})).To(Succeed())

	// no "a" element: data is the whole body
	ft.cbs.OnMessage(messageFrame("/user/topic/DEVICE.dev-1", "msg-1", `{"v": "VIN9", "x": 7}`))

	g.Expect(events).To(HaveLen(1))
	g.Expect(events[0].Data.Get("x").Int()).To(Equal(int64(7)))
}

func TestDispatch_batchedMessage(t *testing.T) {
	g := NewGomegaWithT(t)

	s, ft := newConnectedSession(g)

	var vins []string

	g.Expect(s.Subscribe("/user/topic/DEVICE.dev-1", func(e types.StatusEvent) {
		vins = append(vins, e.VIN)
	})).To(Succeed())

	body := `[{"v": "A"}, {"v": "B"}, {"v": "C"}]`
	ft.cbs.OnMessage(messageFrame("/user/topic/DEVICE.dev-1", "msg-7", body))

	// one callback per element, in array order, no acks
	g.Expect(vins).To(Equal([]string{"A", "B", "C"}))
	g.Expect(ackFrames(ft.frames())).To(BeEmpty())
}

func TestDispatch_batchedMessageAckToggle(t *testing.T) {
	g := NewGomegaWithT(t)

	opts := testOptions()
	opts.AckBatched = true

	ft := &fakeTransport{autoConnected: true}

	s, err := NewSession(opts, ft)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(s.Connect(context.Background())).To(Succeed())

	g.Expect(s.Subscribe("/user/topic/DEVICE.dev-1", func(types.StatusEvent) {})).To(Succeed())

	ft.cbs.OnMessage(messageFrame("/user/topic/DEVICE.dev-1", "msg-7", `[{"v": "A"}, {"v": "B"}]`))

	g.Expect(ackFrames(ft.frames())).To(HaveLen(2))
}

func TestDispatch_unknownDestination(t *testing.T) {
	g := NewGomegaWithT(t)

	_, ft := newConnectedSession(g)

	before := len(ft.frames())

	// no subscription registered: dropped, no ack, no panic
	ft.cbs.OnMessage(messageFrame("/user/topic/VIN.NOPE", "msg-1", `{"v": "X"}`))

	g.Expect(ft.frames()).To(HaveLen(before))
}

func TestDispatch_malformedFrameDropped(t *testing.T) {
	g := NewGomegaWithT(t)

	s, ft := newConnectedSession(g)

	before := len(ft.frames())

	ft.cbs.OnMessage("MESSAGE\nnot-a-header\n\n\x00")

	g.Expect(ft.frames()).To(HaveLen(before))
	g.Expect(s.Connected()).To(BeTrue())
}

func TestDispatch_invalidJSONDropped(t *testing.T) {
	g := NewGomegaWithT(t)

	s, ft := newConnectedSession(g)

	called := false

	g.Expect(s.Subscribe("/user/topic/DEVICE.dev-1", func(types.StatusEvent) {
		called = true
	})).To(Succeed())

	ft.cbs.OnMessage(messageFrame("/user/topic/DEVICE.dev-1", "msg-1", "this is not json"))

	g.Expect(called).To(BeFalse())
}

func TestDispatch_stripsNonPrintable(t *testing.T) {
	g := NewGomegaWithT(t)

	s, ft := newConnectedSession(g)

	var events []types.StatusEvent

	g.Expect(s.Subscribe("/user/topic/DEVICE.dev-1", func(e types.StatusEvent) {
		events = append(events, e)
	})).To(Succeed())

	// body arrives with embedded control characters
	ft.cbs.OnMessage(messageFrame("/user/topic/DEVICE.dev-1", "msg-1", "{\"v\": \"VIN1\"}\x00\x01"))

	g.Expect(events).To(HaveLen(1))
	g.Expect(events[0].VIN).To(Equal("VIN1"))
}
