package distcli

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	"github.com/warpdl/warppkg/common"
)

// DaemonURI represents a parsed daemon connection URI.
type DaemonURI struct {
	Scheme  string // "unix", "tcp", "ws" or "wss"
	Address string // socket path, host:port, or full websocket URL
	// Token is taken from a token query parameter of websocket URIs.
	Token string
}

// Supported URI schemes
const (
	SchemeUnix = "unix"
	SchemeTCP  = "tcp"
	SchemeWS   = "ws"
	SchemeWSS  = "wss"
)

// Errors
var (
	ErrEmptyURI          = errors.New("daemon URI cannot be empty")
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
	ErrInvalidPath       = errors.New("invalid path in URI")
	ErrUnixNotSupported  = errors.New("unix:// scheme not supported on Windows")
)

// DefaultURI is where a local daemon listens given the environment.
func DefaultURI() string {
	if common.ForceTCP() {
		return fmt.Sprintf("tcp://127.0.0.1:%d", common.TCPPort())
	}
	return "unix://" + common.SocketPath()
}

// ParseDaemonURI parses a daemon URI string into a DaemonURI struct.
func ParseDaemonURI(rawURI string) (*DaemonURI, error) {
	rawURI = strings.TrimSpace(rawURI)
	if rawURI == "" {
		return nil, ErrEmptyURI
	}
	parsed, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeUnix:
		return parseUnixURI(parsed)
	case SchemeTCP:
		return parseTCPURI(parsed)
	case SchemeWS, SchemeWSS:
		return parseWebSocketURI(parsed)
	default:
		return nil, ErrUnsupportedScheme
	}
}

// parseUnixURI accepts unix:///absolute/path only.
func parseUnixURI(parsed *url.URL) (*DaemonURI, error) {
	if runtime.GOOS == "windows" {
		return nil, ErrUnixNotSupported
	}
	// unix://relative/path puts "relative" in Host
	if parsed.Host != "" {
		return nil, ErrInvalidPath
	}
	path := parsed.Path
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidPath
	}
	return &DaemonURI{Scheme: SchemeUnix, Address: path}, nil
}

// parseTCPURI parses a TCP URI, adding the default port when missing.
func parseTCPURI(parsed *url.URL) (*DaemonURI, error) {
	host := parsed.Host
	if host == "" {
		return nil, ErrInvalidPath
	}
	address, err := withPort(host, common.DefaultTCPPort)
	if err != nil {
		return nil, err
	}
	return &DaemonURI{Scheme: SchemeTCP, Address: address}, nil
}

// parseWebSocketURI parses ws:// and wss:// URIs. The path defaults to the
// daemon's websocket endpoint and a token parameter is lifted out.
func parseWebSocketURI(parsed *url.URL) (*DaemonURI, error) {
	if parsed.Host == "" {
		return nil, ErrInvalidPath
	}
	host, err := withPort(parsed.Host, common.DefaultWebPort)
	if err != nil {
		return nil, err
	}
	q := parsed.Query()
	token := q.Get("token")
	q.Del("token")

	u := *parsed
	u.Scheme = strings.ToLower(parsed.Scheme)
	u.Host = host
	u.RawQuery = q.Encode()
	if u.Path == "" || u.Path == "/" {
		u.Path = "/jsonrpc/ws"
	}
	return &DaemonURI{Scheme: u.Scheme, Address: u.String(), Token: token}, nil
}

func withPort(hostport string, defaultPort int) (string, error) {
	host, port, err := parseHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if port == "" {
		return fmt.Sprintf("%s:%d", host, defaultPort), nil
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("%w: invalid port", ErrInvalidPath)
	}
	if portNum < 1 || portNum > 65535 {
		return "", fmt.Errorf("%w: port out of range", ErrInvalidPath)
	}
	return hostport, nil
}

// parseHostPort splits a host:port string, handling IPv6 addresses with brackets.
// Port may be empty if not present.
func parseHostPort(hostport string) (string, string, error) {
	if strings.HasPrefix(hostport, "[") {
		closeBracket := strings.Index(hostport, "]")
		if closeBracket == -1 {
			return "", "", errors.New("missing closing bracket in IPv6 address")
		}
		host := hostport[:closeBracket+1]
		remainder := hostport[closeBracket+1:]
		if remainder == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", "", errors.New("invalid format after IPv6 address")
		}
		return host, remainder[1:], nil
	}

	switch strings.Count(hostport, ":") {
	case 0:
		return hostport, "", nil
	case 1:
		idx := strings.LastIndex(hostport, ":")
		return hostport[:idx], hostport[idx+1:], nil
	}
	return "", "", errors.New("IPv6 address must be enclosed in brackets")
}
