// Package endpoint turns endpoint text into a session config and acquires
// the socket the session reads from.
//
// Syntax:
//
//	[scheme://][server[:port]][@[bind][:bindport]][,token]...
//
// where scheme is udp, udp4, udp6 or udpstream and token is one of
// nat=<host>:<port>, kplv=<host>:<port>, time=<N>, string=<text>; or
// strlen=<N>.
package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/udpin/internal/core"
	"firestige.xyz/udpin/internal/session"
)

// HostPort is an unresolved host and port. Port 0 means unset.
type HostPort struct {
	Host string
	Port uint16
}

// IsZero reports whether neither host nor port was given.
func (h HostPort) IsZero() bool {
	return h.Host == "" && h.Port == 0
}

func (h HostPort) String() string {
	if strings.Contains(h.Host, ":") {
		return "[" + h.Host + "]:" + strconv.Itoa(int(h.Port))
	}
	return h.Host + ":" + strconv.Itoa(int(h.Port))
}

// Endpoint is the parsed, unresolved form of an endpoint string.
type Endpoint struct {
	Text string

	// Scheme is empty when the text had none.
	Scheme  string
	Server  HostPort
	Bind    HostPort
	HasBind bool

	NAT       *HostPort
	KeepAlive *HostPort
	// Interval is the time= value in units of session.IntervalUnit; 0 when unset.
	Interval int
	Payload  *string
	Length   *int
}

// Network returns the socket network selected by the scheme, or "" when the
// text had no scheme.
func (e *Endpoint) Network() string {
	switch e.Scheme {
	case "udp4":
		return "udp4"
	case "udp6":
		return "udp6"
	case "":
		return ""
	default:
		return "udp"
	}
}

func syntaxErr(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrEndpointSyntax)
}

// Parse parses endpoint text without resolving any host names.
func Parse(text string) (*Endpoint, error) {
	e := &Endpoint{Text: text}
	rest := strings.TrimSpace(text)

	if i := strings.Index(rest, "://"); i >= 0 {
		scheme := strings.ToLower(rest[:i])
		switch scheme {
		case "udp", "udp4", "udp6", "udpstream":
		default:
			return nil, syntaxErr("unsupported scheme %q", scheme)
		}
		e.Scheme = scheme
		rest = rest[i+3:]
	}

	addrs, opts, _ := strings.Cut(rest, ",")

	server, bind, hasBind := strings.Cut(addrs, "@")
	var err error
	if e.Server, err = splitHostPort(server); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if hasBind {
		e.HasBind = true
		if e.Bind, err = splitHostPort(bind); err != nil {
			return nil, fmt.Errorf("bind: %w", err)
		}
	}

	if err := e.parseTokens(opts); err != nil {
		return nil, err
	}
	return e, nil
}

// parseTokens consumes the comma separated options. string= runs up to the
// next ';' and may contain commas.
func (e *Endpoint) parseTokens(s string) error {
	for s != "" {
		if text, ok := strings.CutPrefix(s, "string="); ok {
			end := strings.IndexByte(text, ';')
			if end < 0 {
				return syntaxErr("unterminated string= token, expected ';'")
			}
			payload := text[:end]
			if len(payload) > session.MaxKeepAlivePayload {
				return syntaxErr("string= longer than %d bytes", session.MaxKeepAlivePayload)
			}
			e.Payload = &payload
			s = strings.TrimPrefix(text[end+1:], ",")
			continue
		}

		var tok string
		tok, s, _ = strings.Cut(s, ",")
		if tok == "" {
			continue
		}
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			return syntaxErr("malformed token %q", tok)
		}

		switch key {
		case "nat", "kplv":
			hp, err := splitHostPort(val)
			if err != nil {
				return fmt.Errorf("%s=: %w", key, err)
			}
			if hp.Host == "" || hp.Port == 0 {
				return syntaxErr("%s= needs <host>:<port>, got %q", key, val)
			}
			if key == "nat" {
				e.NAT = &hp
			} else {
				e.KeepAlive = &hp
			}
		case "time":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return syntaxErr("time= must be a positive integer, got %q", val)
			}
			e.Interval = n
		case "strlen":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 || n > session.MaxKeepAliveLength {
				return syntaxErr("strlen= must be in 0..%d, got %q", session.MaxKeepAliveLength, val)
			}
			e.Length = &n
		default:
			return syntaxErr("unknown token %q", key)
		}
	}
	return nil
}

// splitHostPort splits "host", "host:port", ":port", "[v6]" or "[v6]:port".
// An unbracketed address with more than one colon is taken as a bare IPv6 host.
func splitHostPort(s string) (HostPort, error) {
	var hp HostPort
	if s == "" {
		return hp, nil
	}

	host, port, sep := s, "", false
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return hp, syntaxErr("missing ']' in %q", s)
		}
		host = s[1:end]
		after := s[end+1:]
		if after != "" {
			port, sep = strings.CutPrefix(after, ":")
			if !sep {
				return hp, syntaxErr("unexpected %q after ']'", after)
			}
		}
	} else if strings.Count(s, ":") == 1 {
		host, port, sep = strings.Cut(s, ":")
	}

	hp.Host = host
	if !sep {
		return hp, nil
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return hp, syntaxErr("invalid port %q in %q", port, s)
	}
	hp.Port = uint16(n)
	return hp, nil
}
