package rcon

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Transport int

const (
	// TransportStream is the Source style TCP protocol.
	TransportStream Transport = iota
	// TransportDatagram is the GoldSrc style UDP protocol.
	TransportDatagram
)

var errUnknownTransport = errors.New("unknown transport")

func (t Transport) String() string {
	switch t {
	case TransportStream:
		return "tcp"
	case TransportDatagram:
		return "udp"
	default:
		return "unknown"
	}
}

func (t Transport) network() string {
	if t == TransportDatagram {
		return "udp"
	}

	return "tcp"
}

// ParseTransport accepts the names used in config files.
func ParseTransport(name string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tcp", "stream":
		return TransportStream, nil
	case "udp", "datagram":
		return TransportDatagram, nil
	default:
		return TransportStream, errors.Wrapf(errUnknownTransport, "%q", name)
	}
}

const (
	DefaultRequestID      int32 = 0x0012D4A6
	DefaultRetryMax             = 5
	DefaultRetryFrequency       = time.Second * 2
	DefaultDialTimeout          = time.Second * 2
	DefaultAuthTimeout          = time.Second * 5
)

// Options configure a single Client and are not modified after New.
type Options struct {
	Host      string
	Port      uint16
	Password  string
	Transport Transport
	// Challenge enables the "challenge rcon" handshake on the datagram
	// transport. Ignored for the stream transport.
	Challenge      bool
	RetryMax       int
	RetryFrequency time.Duration
	RequestID      int32
	DialTimeout    time.Duration
	// AuthTimeout bounds how long Init waits for the handshake of one attempt.
	AuthTimeout time.Duration
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(int(o.Port)))
}

func (o Options) withDefaults() Options {
	if o.RetryMax <= 0 {
		o.RetryMax = DefaultRetryMax
	}

	if o.RetryFrequency <= 0 {
		o.RetryFrequency = DefaultRetryFrequency
	}

	if o.RequestID == 0 {
		o.RequestID = DefaultRequestID
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}

	return o
}
