// Package stomp implements the vendor's STOMP-over-websocket dialect: text
// frames with single-line JSON bodies, a bare line-feed heartbeat echoed in
// both directions, and per-message acknowledgements posted back as SEND
// frames. The transport is abstracted away; see the transport package.
package stomp

import (
	"strings"

	"github.com/pkg/errors"
)

type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandMessage     Command = "MESSAGE"
	CommandDisconnect  Command = "DISCONNECT"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandSend        Command = "SEND"
)

const (
	// Heartbeat is the keep-alive sentinel: a bare line feed with no command.
	Heartbeat = "\n"

	lf        = "\n"
	nullOctet = "\x00"
)

var (
	ErrMalformedHeader = errors.New("malformed header line: missing ':' separator")
	ErrTruncatedFrame  = errors.New("truncated frame: missing header terminator")
)

// Header is a single frame header. Headers are kept as a slice so that
// serialization preserves insertion order.
type Header struct {
	Key   string
	Value string
}

// Frame is one protocol unit: command, ordered headers, optional body.
// Frames are transient - built, serialized or parsed, then discarded.
type Frame struct {
	Command Command
	Headers []Header
	Body    *string
}

// Header returns the value for key, or "" when absent.
func (f *Frame) Header(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}

	return ""
}

// Marshal serializes f to wire text: command line, one line per header in
// insertion order, a blank line, the body if present, then the trailing NUL.
// Commands, headers and bodies must not contain the NUL octet.
func Marshal(f *Frame) string {
	var b strings.Builder

	if f.Command != "" {
		b.WriteString(string(f.Command))
		b.WriteString(lf)

		for _, h := range f.Headers {
			b.WriteString(h.Key)
			b.WriteString(":")
			b.WriteString(h.Value)
			b.WriteString(lf)
		}

		b.WriteString(lf)
	}

	if f.Body != nil {
		b.WriteString(*f.Body)
	}

	b.WriteString(nullOctet)

	return b.String()
}

// Parse decodes wire text into a Frame. The first line, trimmed, is the
// command; header lines run to the first empty line and split on the first
// colon; the line after the terminator is the body unless it is the lone NUL
// octet. Multi-line bodies are not supported - service payloads are
// single-line JSON.
//
// Heartbeat frames have no command; check IsHeartbeat before calling Parse.
func Parse(raw string) (*Frame, error) {
	lines := strings.Split(raw, lf)

	f := &Frame{
		Command: Command(strings.TrimSpace(lines[0])),
	}

	i := 1

	for ; ; i++ {
		if i >= len(lines) {
			return nil, ErrTruncatedFrame
		}

		if lines[i] == "" {
			break
		}

		key, value, ok := strings.Cut(lines[i], ":")
		if !ok {
			return nil, errors.Wrapf(ErrMalformedHeader, "'%s'", lines[i])
		}

		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}

	if i+1 < len(lines) && lines[i+1] != nullOctet {
		body := strings.TrimSuffix(lines[i+1], nullOctet)
		f.Body = &body
	}

	return f, nil
}

// IsHeartbeat reports whether raw is the keep-alive sentinel rather than a
// full frame.
func IsHeartbeat(raw string) bool {
	return raw == Heartbeat
}
