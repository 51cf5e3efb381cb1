package scratchomised

import (
	"net"
	"strconv"
	"strings"
)

// Scheme selects a plain or TLS websocket.
type Scheme string

const (
	SchemePlain  Scheme = "ws"
	SchemeSecure Scheme = "wss"
)

// Default peer address used by the home-design plugin.
const (
	DefaultHost = "localhost"
	DefaultPort = 55125
)

// ParseScheme accepts ws, wss, plain and secure in any case.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ws", "plain":
		return SchemePlain, nil
	case "wss", "secure":
		return SchemeSecure, nil
	default:
		return "", NewError(ErrorInvalidConfig, "unknown scheme "+strconv.Quote(s))
	}
}

// Target is the peer address. It survives reconnect attempts until replaced.
type Target struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Scheme Scheme `yaml:"scheme"`
}

// DefaultTarget returns ws://localhost:55125.
func DefaultTarget() Target {
	return Target{Host: DefaultHost, Port: DefaultPort, Scheme: SchemePlain}
}

// URL renders scheme://host:port.
func (t Target) URL() string {
	return string(t.Scheme) + "://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string { return t.URL() }

func (t Target) Validate() error {
	if t.Host == "" {
		return NewError(ErrorInvalidConfig, "empty host")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return NewError(ErrorInvalidConfig, "port out of range: "+strconv.Itoa(t.Port))
	}
	if t.Scheme != SchemePlain && t.Scheme != SchemeSecure {
		return NewError(ErrorInvalidConfig, "unknown scheme "+strconv.Quote(string(t.Scheme)))
	}
	return nil
}
