// Package client wires a credential source, a websocket transport and a
// stomp session into the service's push-notification surface: one device
// destination plus one destination per vehicle, all feeding a single caller
// callback.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fleetlink/fleetlink/options"
	"github.com/fleetlink/fleetlink/stomp"
	"github.com/fleetlink/fleetlink/transport"
	"github.com/fleetlink/fleetlink/types"
	"github.com/fleetlink/fleetlink/validate"
)

const (
	DeviceDestinationFmt = "/user/topic/DEVICE.%s"
	VINDestinationFmt    = "/user/topic/VIN.%s"

	// websocketPathFmt is the service's endpoint shape: version path plus
	// the device id as a bare query string.
	websocketPathFmt = "%s/v2?%s"
)

// CredentialSource supplies a pre-authenticated identity. Token refresh and
// the REST surface live outside this module.
type CredentialSource interface {
	AccessToken() string
	UserName() string
}

// StaticCredentials is a CredentialSource for tokens the caller manages
// itself.
type StaticCredentials struct {
	Token string
	User  string
}

func (s StaticCredentials) AccessToken() string { return s.Token }
func (s StaticCredentials) UserName() string    { return s.User }

type Config struct {
	Credentials CredentialSource

	// WebsocketURL is the base websocket URL handed out by the service
	// (scheme + host, no version path).
	WebsocketURL string

	// DeviceID is generated when empty.
	DeviceID string

	// VINs to subscribe for, in addition to the device destination.
	VINs []string

	// OnEvent receives every dispatched status event. Required before
	// ConnectWebsocket.
	OnEvent types.EventFunc

	HeartbeatInterval time.Duration
	AckBatched        bool
	OnError           func(error)

	Log *logrus.Entry
}

type Client struct {
	cfg     *Config
	session *stomp.Session
	log     *logrus.Entry

	// newTransport is swappable for tests
	newTransport func(url string, header http.Header, log *logrus.Entry) transport.Transport
}

func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, validate.ErrEmptyOptions
	}

	if cfg.Credentials == nil {
		return nil, validate.ErrMissingCredentials
	}

	if cfg.WebsocketURL == "" {
		return nil, validate.ErrMissingURL
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}

	if cfg.Log == nil {
		cfg.Log = logrus.WithField("pkg", "client")
	}

	return &Client{
		cfg: cfg,
		log: cfg.Log,
		newTransport: func(url string, header http.Header, log *logrus.Entry) transport.Transport {
			return transport.NewWebsocket(url, header, log)
		},
	}, nil
}

// ConnectWebsocket opens the push-notification session and subscribes the
// device destination followed by one destination per configured VIN. It
// fails before any connection attempt when no message callback is
// configured.
func (c *Client) ConnectWebsocket(ctx context.Context) error {
	if c.cfg.OnEvent == nil {
		return validate.ErrNoMessageCallback
	}

	if c.session != nil && c.session.Connected() {
		return types.SessionAlreadyConnectedErr
	}

	wsURL := fmt.Sprintf(websocketPathFmt, c.cfg.WebsocketURL, c.cfg.DeviceID)

	opts := &options.Options{
		URL:               wsURL,
		AccessToken:       c.cfg.Credentials.AccessToken(),
		UserName:          c.cfg.Credentials.UserName(),
		DeviceID:          c.cfg.DeviceID,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		AckBatched:        c.cfg.AckBatched,
		OnError:           c.cfg.OnError,
		Log:               c.log.WithField("pkg", "stomp"),
	}

	session, err := stomp.NewSession(opts, c.newTransport(wsURL, nil, c.log.WithField("pkg", "transport")))
	if err != nil {
		return errors.Wrap(err, "unable to create session")
	}

	if err := session.Connect(ctx); err != nil {
		return errors.Wrap(err, "unable to connect session")
	}

	c.session = session

	if err := session.Subscribe(fmt.Sprintf(DeviceDestinationFmt, c.cfg.DeviceID), c.cfg.OnEvent); err != nil {
		return errors.Wrap(err, "unable to subscribe device destination")
	}

	for _, vin := range c.cfg.VINs {
		if err := session.Subscribe(fmt.Sprintf(VINDestinationFmt, vin), c.cfg.OnEvent); err != nil {
			return errors.Wrapf(err, "unable to subscribe VIN '%s'", vin)
		}
	}

	c.log.Infof("websocket service connected; %d destination(s) subscribed", len(c.cfg.VINs)+1)

	return nil
}

// DisconnectWebsocket tears the session down. Calling it before a successful
// ConnectWebsocket is an error.
func (c *Client) DisconnectWebsocket(ctx context.Context) error {
	if c.session == nil {
		return types.SessionNotConnectedErr
	}

	if err := c.session.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "unable to disconnect session")
	}

	c.session = nil

	return nil
}

// Session exposes the underlying stomp session for callers that need ad-hoc
// subscriptions beyond the configured destinations.
func (c *Client) Session() *stomp.Session {
	return c.session
}
