// Package token decodes conference session tokens.
//
// A session token is an opaque base64 string handed to the application by the
// conference portal. Decoded, it is a JSON object carrying at least the
// signaling host and whether the connection must use TLS. The token is used
// once to locate the signaling endpoint and once more, verbatim, inside the
// login request.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMalformedToken = errors.New("token: malformed session token")
	ErrMissingHost    = errors.New("token: missing host")
	ErrBadEndpoint    = errors.New("token: invalid signaling endpoint")
)

// Token is the decoded shape of a session token. Servers may include more
// fields (room id, issue time, signature); only the ones needed to reach the
// signaling endpoint are modeled here.
type Token struct {
	Host   string `json:"host"`
	Secure bool   `json:"secure"`
}

// Decode parses a base64 session token. Both padded and unpadded standard
// base64 are accepted; portals differ on this.
func Decode(raw string) (Token, error) {
	if raw == "" {
		return Token{}, ErrMalformedToken
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if t.Host == "" {
		return Token{}, ErrMissingHost
	}
	return t, nil
}

// Endpoint builds the signaling endpoint URL for the token, e.g.
// "https://conf.example.com" for {host: "conf.example.com", secure: true}.
func (t Token) Endpoint() (string, error) {
	if t.Host == "" {
		return "", ErrMissingHost
	}
	// The host field must be authority-only. A scheme or path smuggled into it
	// would silently redirect the channel elsewhere.
	if strings.Contains(t.Host, "/") || strings.Contains(t.Host, "://") {
		return "", fmt.Errorf("%w: %q", ErrBadEndpoint, t.Host)
	}

	scheme := "http"
	if t.Secure {
		scheme = "https"
	}
	endpoint := scheme + "://" + t.Host

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	if u.Host == "" || u.Host != t.Host {
		return "", fmt.Errorf("%w: %q", ErrBadEndpoint, t.Host)
	}
	return endpoint, nil
}
