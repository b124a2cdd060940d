package discovery

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of chanwire servers.
	ServiceType = "_chanwire._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is used when a server does not set a port.
	DefaultPort = 4000

	// DefaultPath is the socket endpoint path.
	DefaultPath = "/socket"

	// ProtocolVersion is advertised in the v TXT key.
	ProtocolVersion = "1"
)

// TXT record keys.
const (
	TXTKeyPath      = "path"
	TXTKeyTransport = "transport"
	TXTKeyCodec     = "codec"
	TXTKeyVersion   = "v"
)

// Transport names advertised in the transport TXT key.
const (
	TransportWebSocket       = "ws"
	TransportSecureWebSocket = "wss"
	TransportStream          = "tcp"
)

// Errors.
var (
	ErrNotFound         = errors.New("service not found")
	ErrInvalidInstance  = errors.New("invalid instance name")
	ErrInvalidTXTRecord = errors.New("invalid TXT record")
	ErrMissingRequired  = errors.New("missing required TXT field")
)

// ServerInfo is what a server advertises about itself.
type ServerInfo struct {
	// Instance is the human readable instance name.
	Instance string

	// Port is the listening port. Zero uses DefaultPort.
	Port uint16

	// Path is the socket endpoint path. Empty uses DefaultPath.
	Path string

	// Transport is one of the Transport* names. Empty means "ws".
	Transport string

	// Codec names the frame codec, e.g. "json" or "cbor".
	Codec string
}

// Service is a server found while browsing.
type Service struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string

	Path      string
	Transport string
	Codec     string
	Version   string
}

// URL returns the endpoint URL of the service, preferring the first
// resolved address over the host name.
func (s *Service) URL() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}

	scheme := s.Transport
	if scheme == "" {
		scheme = TransportWebSocket
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(int(s.Port))),
	}
	if scheme != TransportStream {
		u.Path = s.Path
		if u.Path == "" {
			u.Path = DefaultPath
		}
	}
	return u.String()
}

// AdvertiserConfig configures an MDNSAdvertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the record TTL. Zero uses the zeroconf default.
	TTL time.Duration
}

// BrowserConfig configures an MDNSBrowser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string
}
