package signaling

import (
	"crypto/tls"

	"github.com/sirupsen/logrus"

	"github.com/conferencekit/conference-go/internal/eventsock"
)

// Configuration bundles the optional knobs passed to Channel.Connect.
// The zero value is valid: standard TLS verification, default transport,
// tolerant protocol handling.
type Configuration struct {
	// TLSConfig supplies a custom certificate-trust policy and hostname
	// verification for the signaling connection.
	TLSConfig *tls.Config

	// StrictProtocol makes protocol contract violations panic instead of
	// being logged and counted. Intended for test builds.
	StrictProtocol bool

	// Logger overrides the channel's logrus entry.
	Logger *logrus.Entry

	// TransportFactory overrides the default websocket transport.
	TransportFactory TransportFactory
}

func (c Configuration) withDefaults() Configuration {
	if c.TransportFactory == nil {
		c.TransportFactory = defaultTransportFactory
	}
	return c
}

func defaultTransportFactory(endpoint string, opts TransportOptions) (Transport, error) {
	return eventsock.New(endpoint, eventsock.Options{
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		TLSConfig:            opts.TLSConfig,
	})
}
