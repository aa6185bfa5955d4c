// Package validate contains various validation functions
package validate

import (
	"net/url"

	"github.com/pkg/errors"

	"github.com/fleetlink/fleetlink/options"
)

var (

	// Session

	ErrEmptyOptions    = errors.New("options cannot be nil")
	ErrMissingURL      = errors.New("websocket URL cannot be empty")
	ErrInvalidURL      = errors.New("websocket URL is not a valid URL")
	ErrMissingToken    = errors.New("access token cannot be empty")
	ErrMissingUserName = errors.New("user name cannot be empty")
	ErrMissingDeviceID = errors.New("device id cannot be empty")

	// Transport

	ErrMissingTransport = errors.New("transport cannot be nil")

	// Client

	ErrMissingCredentials = errors.New("credential source cannot be nil")
	ErrNoMessageCallback  = errors.New("no message callback has been configured; unable to connect websocket service")
)

func SessionOptions(opts *options.Options) error {
	if opts == nil {
		return ErrEmptyOptions
	}

	if opts.URL == "" {
		return ErrMissingURL
	}

	if _, err := url.Parse(opts.URL); err != nil {
		return errors.Wrap(ErrInvalidURL, err.Error())
	}

	if opts.AccessToken == "" {
		return ErrMissingToken
	}

	if opts.UserName == "" {
		return ErrMissingUserName
	}

	if opts.DeviceID == "" {
		return ErrMissingDeviceID
	}

	return nil
}
