package amqp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// ClientVersion is reported in the client properties.
const ClientVersion = "0.1.0"

// Defaults applied by DefaultConfig and withDefaults.
const (
	DefaultHeartbeat         = 10 * time.Second
	DefaultConnectTimeout    = 3 * time.Second
	DefaultDisconnectTimeout = 2500 * time.Millisecond
	DefaultWriteTimeout      = 10 * time.Second
	DefaultLogin             = "guest"
	DefaultPassword          = "guest"
	DefaultVhost             = "/"
	DefaultLocale            = "en_US"
	DefaultMechanism         = "AMQPLAIN"
)

var schemePorts = map[string]int{
	"amqp":  5672,
	"amqps": 5671,
	"ws":    80,
	"wss":   443,
}

// Host is one broker endpoint. Path is only used by WebSocket transports.
type Host struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// Key identifies the host inside a pool.
func (host Host) Key() string {
	return net.JoinHostPort(host.Host, strconv.Itoa(host.Port))
}

func (host Host) String() string {
	scheme := host.Scheme
	if scheme == "" {
		scheme = "amqp"
	}
	return scheme + "://" + host.Key() + host.Path
}

func (host Host) secure() bool {
	return host.Scheme == "amqps" || host.Scheme == "wss"
}

func (host Host) websocket() bool {
	return host.Scheme == "ws" || host.Scheme == "wss"
}

// SocketOptions tune the TCP socket under every transport. Start from
// DefaultConfig; the boolean options cannot be defaulted from zero values.
type SocketOptions struct {
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	NoDelay         bool
	// Timeout bounds the transport connect. Zero selects
	// DefaultConnectTimeout.
	Timeout time.Duration
	// WriteTimeout bounds every frame write. A peer that stops reading
	// fails the session instead of stalling it. Zero selects
	// DefaultWriteTimeout.
	WriteTimeout time.Duration
	ReadBuffer   int
	WriteBuffer  int
	// UserTimeout sets TCP_USER_TIMEOUT where the platform supports it.
	UserTimeout time.Duration
	// QuickAck disables delayed ACKs on Linux.
	QuickAck bool
}

// DialFunc opens the transport for host. Tests use it to inject pipes.
type DialFunc func(ctx context.Context, host Host, config *Config) (net.Conn, error)

// SecureHandler answers a connection.secure challenge.
type SecureHandler func(challenge string) (response string, err error)

// Config is handed to connections and pools at construction and never
// mutated afterwards.
type Config struct {
	Hosts    []Host
	Login    string
	Password string
	Vhost    string
	Locale   string

	// Heartbeat is the negotiated heartbeat interval. Zero selects
	// DefaultHeartbeat; a negative value disables heartbeats.
	Heartbeat  time.Duration
	FrameMax   uint32
	ChannelMax uint16

	// ConnectionName is advertised as connection_name. Empty generates a
	// unique name.
	ConnectionName   string
	ClientProperties codec.Table

	TLSConfig       *tls.Config
	WebSocketHeader http.Header

	Reconnect       bool
	ReconnectPolicy ReconnectPolicy
	// HostChooser orders pool hosts for each connection round. Nil
	// shuffles them.
	HostChooser HostChooser

	Socket            SocketOptions
	DisconnectTimeout time.Duration

	SecureHandler SecureHandler
	Logger        *slog.Logger
	Metrics       *Metrics
	Dial          DialFunc
}

// DefaultConfig returns a config pointing at amqp://localhost:5672.
func DefaultConfig() *Config {
	return &Config{
		Hosts:     []Host{{Scheme: "amqp", Host: "localhost", Port: 5672}},
		Login:     DefaultLogin,
		Password:  DefaultPassword,
		Vhost:     DefaultVhost,
		Locale:    DefaultLocale,
		Heartbeat: DefaultHeartbeat,
		Reconnect: true,
		ReconnectPolicy: ReconnectPolicy{
			InitialDelay: DefaultInitialDelay,
			MaxDelay:     DefaultMaxDelay,
			Factor:       DefaultBackoffFactor,
		},
		Socket: SocketOptions{
			KeepAlive:    true,
			NoDelay:      true,
			Timeout:      DefaultConnectTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		DisconnectTimeout: DefaultDisconnectTimeout,
	}
}

// withDefaults returns a copy with zero values replaced by defaults.
func (config *Config) withDefaults() *Config {
	var result Config
	if config != nil {
		result = *config
	}
	if result.Login == "" {
		result.Login = DefaultLogin
	}
	if result.Password == "" {
		result.Password = DefaultPassword
	}
	if result.Vhost == "" {
		result.Vhost = DefaultVhost
	}
	if result.Locale == "" {
		result.Locale = DefaultLocale
	}
	if result.Heartbeat == 0 {
		result.Heartbeat = DefaultHeartbeat
	}
	if result.Socket.Timeout <= 0 {
		result.Socket.Timeout = DefaultConnectTimeout
	}
	if result.Socket.WriteTimeout <= 0 {
		result.Socket.WriteTimeout = DefaultWriteTimeout
	}
	if result.DisconnectTimeout <= 0 {
		result.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if result.Logger == nil {
		result.Logger = slog.Default()
	}
	if result.Dial == nil {
		result.Dial = dialTransport
	}
	if result.ConnectionName == "" {
		result.ConnectionName = "amqp-client-go-" + uuid.NewString()
	}
	if result.HostChooser == nil {
		result.HostChooser = NewRandomHostChooser()
	}
	result.ReconnectPolicy = result.ReconnectPolicy.withDefaults()
	result.Hosts = append([]Host(nil), result.Hosts...)
	for i := range result.Hosts {
		result.Hosts[i] = normalizeHost(result.Hosts[i])
	}
	return &result
}

func normalizeHost(host Host) Host {
	if host.Scheme == "" {
		host.Scheme = "amqp"
	}
	if host.Host == "" {
		host.Host = "localhost"
	}
	if host.Port == 0 {
		host.Port = schemePorts[host.Scheme]
	}
	return host
}

// heartbeatSeconds is the value sent in connection.tune-ok.
func (config *Config) heartbeatSeconds() uint16 {
	if config.Heartbeat <= 0 {
		return 0
	}
	seconds := config.Heartbeat / time.Second
	if seconds == 0 {
		seconds = 1
	}
	return uint16(min(seconds, 65535))
}

// clientProperties merges the defaults with config.ClientProperties.
func (config *Config) clientProperties() codec.Table {
	hostname, _ := os.Hostname()
	properties := codec.Table{
		"product":  "amqp-client-go",
		"version":  ClientVersion,
		"platform": hostname + "-go-" + runtime.Version(),
		"capabilities": codec.Table{
			"consumer_cancel_notify":       true,
			"publisher_confirms":           true,
			"exchange_exchange_bindings":   true,
			"basic.nack":                   true,
			"connection.blocked":           true,
			"authentication_failure_close": true,
		},
	}
	for key, value := range config.ClientProperties {
		if key == "capabilities" {
			if extra, ok := value.(codec.Table); ok {
				capabilities := properties["capabilities"].(codec.Table)
				for name, enabled := range extra {
					capabilities[name] = enabled
				}
				continue
			}
		}
		properties[key] = value
	}

	named := amqp091.Table{}
	named.SetClientConnectionName(config.ConnectionName)
	for key, value := range named {
		if _, exists := properties[key]; !exists {
			properties[key] = value
		}
	}
	return properties
}

// ParseURL builds a config from an amqp, amqps, ws or wss URL, starting
// from DefaultConfig. Query parameters heartbeat (seconds), frame_max,
// channel_max and connection_timeout (milliseconds) are honoured, as are
// the TLS parameters certfile, keyfile, cacertfile and
// server_name_indication. WebSocket URLs carry the vhost in a vhost query
// parameter since their path names the endpoint.
func ParseURL(raw string) (*Config, error) {
	config := DefaultConfig()
	config.Hosts = nil
	if err := config.AddURL(raw); err != nil {
		return nil, err
	}
	return config, nil
}

// AddURL appends the host of raw. Credentials, vhost and query parameters
// of the first URL added win; later URLs only contribute hosts.
func (config *Config) AddURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return NewError(InvalidURIError, err)
	}
	if _, ok := schemePorts[parsed.Scheme]; !ok {
		return NewError(InvalidURIError, fmt.Sprintf("unsupported scheme %q", parsed.Scheme))
	}

	var host Host
	amqpURL := *parsed
	if parsed.Scheme == "ws" || parsed.Scheme == "wss" {
		host.Path = parsed.Path
		amqpURL.Scheme = "amqp"
		if parsed.Scheme == "wss" {
			amqpURL.Scheme = "amqps"
		}
		amqpURL.Path = "/" + parsed.Query().Get("vhost")
		amqpURL.RawPath = ""
		if parsed.Port() == "" {
			amqpURL.Host = net.JoinHostPort(parsed.Hostname(), strconv.Itoa(schemePorts[parsed.Scheme]))
		}
	}

	uri, err := amqp091.ParseURI(amqpURL.String())
	if err != nil {
		return NewError(InvalidURIError, err)
	}
	host.Scheme = parsed.Scheme
	host.Host = uri.Host
	host.Port = uri.Port

	first := len(config.Hosts) == 0
	config.Hosts = append(config.Hosts, host)
	if !first {
		return nil
	}

	if parsed.User != nil {
		config.Login = uri.Username
		config.Password = uri.Password
	}
	if parsed.Scheme == "amqp" || parsed.Scheme == "amqps" {
		if parsed.Path != "" && parsed.Path != "/" {
			config.Vhost = uri.Vhost
		}
	} else if vhost := parsed.Query().Get("vhost"); vhost != "" {
		config.Vhost = vhost
	}
	if uri.ChannelMax > 0 {
		config.ChannelMax = uri.ChannelMax
	}
	if uri.ConnectionTimeout > 0 {
		config.Socket.Timeout = time.Duration(uri.ConnectionTimeout) * time.Millisecond
	}

	query := parsed.Query()
	if query.Has("heartbeat") {
		seconds, err := strconv.Atoi(query.Get("heartbeat"))
		if err != nil {
			return NewError(InvalidURIError, "heartbeat is not an integer")
		}
		if seconds == 0 {
			config.Heartbeat = -1
		} else {
			config.Heartbeat = time.Duration(seconds) * time.Second
		}
	}
	if query.Has("frame_max") {
		frameMax, err := strconv.ParseUint(query.Get("frame_max"), 10, 32)
		if err != nil {
			return NewError(InvalidURIError, "frame_max is not an integer")
		}
		config.FrameMax = uint32(frameMax)
	}

	if host.secure() {
		tlsConfig, err := tlsFromURI(uri)
		if err != nil {
			return NewError(InvalidURIError, err)
		}
		config.TLSConfig = tlsConfig
	}
	return nil
}

func tlsFromURI(uri amqp091.URI) (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: uri.ServerName}
	if uri.CACertFile != "" {
		pem, err := os.ReadFile(uri.CACertFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", uri.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if uri.CertFile != "" && uri.KeyFile != "" {
		certificate, err := tls.LoadX509KeyPair(uri.CertFile, uri.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{certificate}
	}
	return tlsConfig, nil
}

// tlsConfigFor clones the configured TLS settings and fills ServerName.
func (config *Config) tlsConfigFor(host Host) *tls.Config {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" && !strings.ContainsRune(host.Host, ':') {
		if net.ParseIP(host.Host) == nil {
			tlsConfig.ServerName = host.Host
		}
	}
	return tlsConfig
}
