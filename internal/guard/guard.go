package guard

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrEndpointUnset means no graph endpoint was configured at all.
var ErrEndpointUnset = errors.New("graph endpoint is not configured")

// ErrLocalEndpoint means the configured endpoint points at a loopback
// address. The gateway's trust model requires cross-verification against
// a network-wide store; a local store defeats that guarantee.
var ErrLocalEndpoint = errors.New("graph endpoint must not be a local address")

var loopbackHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

// Validate checks that endpoint names a remote, trusted store. It is pure
// and side-effect free; the gateway runs it once per inbound request
// before any query is issued.
func Validate(endpoint string) error {
	e := strings.TrimSpace(endpoint)
	if e == "" {
		return ErrEndpointUnset
	}

	host := hostOf(e)
	if _, local := loopbackHosts[strings.ToLower(host)]; local {
		return fmt.Errorf("%w: %s", ErrLocalEndpoint, host)
	}
	return nil
}

// hostOf extracts the host portion of an endpoint that may or may not
// carry a scheme, port, path, or IPv6 brackets.
func hostOf(endpoint string) string {
	host := endpoint
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
