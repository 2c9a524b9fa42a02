// Package origin classifies request header values as trustworthy-local or
// not, using only string and URL parsing. It performs no network calls and
// holds no state, so every function here is safe for concurrent use.
//
// The validators fail closed: any input that cannot be parsed is treated as
// "not valid". The one deliberate asymmetry is IsBrowserRequest, which fails
// open toward "not a browser" when no User-Agent is present, since CLI and
// SDK clients legitimately omit it.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Hostnames accepted as local clients. Matching is exact after case-folding;
// anything else, including other loopback spellings, is rejected.
const (
	hostLocalhost = "localhost"
	hostLoopback  = "127.0.0.1"
)

// browserTokens are substrings of User-Agent values emitted by mainstream
// browser engines. Substring matching is a heuristic, not a guarantee:
// non-browser clients can spoof a browser UA and browsers can suppress
// theirs. It is a best-effort layer on top of the Origin/Host/Referer
// checks, never the primary control.
var browserTokens = []string{
	"mozilla/",
	"chrome/",
	"safari/",
	"webkit/",
	"gecko/",
	"firefox/",
	"edge/",
	"opera/",
	"browser",
}

// hostPort is the parsed form of a Host header. Port is only meaningful
// when HasPort is true; a port segment that was present but not an integer
// leaves HasPort false so the caller cannot act on garbage.
type hostPort struct {
	Name    string
	Port    int
	HasPort bool
}

// parseHostPort splits a Host header value on the first colon. The result
// is a data value rather than an error: an empty name or an unparseable
// port is simply recorded as such.
func parseHostPort(hostHeader string) hostPort {
	name, portPart, found := strings.Cut(hostHeader, ":")
	parsed := hostPort{Name: strings.ToLower(name)}
	if !found {
		return parsed
	}
	if port, err := strconv.Atoi(portPart); err == nil {
		parsed.Port = port
		parsed.HasPort = true
	}
	return parsed
}

// isLocalName reports whether a case-folded hostname is one of the
// trusted local names.
func isLocalName(name string) bool {
	return name == hostLocalhost || name == hostLoopback
}

// IsValidOrigin reports whether the Origin header value names a trusted
// local client. The value is parsed as a URL and its host compared
// case-insensitively against localhost and 127.0.0.1. Anything that does
// not parse to one of those hosts is invalid.
func IsValidOrigin(originHeader string) bool {
	u, err := url.Parse(originHeader)
	if err != nil {
		return false
	}
	return isLocalName(strings.ToLower(u.Hostname()))
}

// IsValidReferer applies the same test as IsValidOrigin to a Referer URL.
func IsValidReferer(refererHeader string) bool {
	return IsValidOrigin(refererHeader)
}

// IsValidHost reports whether the Host header names this server. The
// hostname must be localhost or 127.0.0.1 and, when an integer port
// segment is present, it must equal expectedPort. A port segment that does
// not parse as an integer does not by itself invalidate the host; only an
// explicit mismatched port does.
func IsValidHost(hostHeader string, expectedPort int) bool {
	parsed := parseHostPort(hostHeader)
	if !isLocalName(parsed.Name) {
		return false
	}
	if parsed.HasPort && parsed.Port != expectedPort {
		return false
	}
	return true
}

// IsBrowserRequest reports whether a User-Agent value looks like it came
// from a browser engine. An absent User-Agent is treated as "not a
// browser" so that headless clients are not penalized for omitting it.
func IsBrowserRequest(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, token := range browserTokens {
		if strings.Contains(ua, token) {
			return true
		}
	}
	return false
}
