package lifecycle

import (
	"errors"

	"github.com/localrivet/toolgate/internal/errortypes"
)

// Config is the bind configuration supplied fresh on each Start call. It is
// never mutated after submission.
type Config struct {
	Host string
	Port int
}

// Validate checks that the port is in the valid TCP range.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errortypes.ValidationError(errors.New("port out of range"), "invalid bind configuration").
			WithField("port", c.Port)
	}
	return nil
}

// BindPolicy is derived from the configured host and never persisted.
// Binding to localhost or 127.0.0.1 restricts the socket to loopback and
// keeps the request gate fully active; any other host is an explicit
// operator decision to expose the port on all interfaces, which also
// disables the gate's origin/host/referer/browser checks.
type BindPolicy struct {
	AllowExternalAccess bool
	BindAddress         string
}

const wildcardAddress = "0.0.0.0"

// PolicyFor derives the bind policy from the configured host.
func PolicyFor(host string) BindPolicy {
	switch host {
	case "localhost", "127.0.0.1":
		return BindPolicy{AllowExternalAccess: false, BindAddress: host}
	default:
		return BindPolicy{AllowExternalAccess: true, BindAddress: wildcardAddress}
	}
}
