package collector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openconfig/gnmi/proto/gnmi"
	"github.com/pisafe/pisafe/internal/config"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultBackoffMin  = 2 * time.Second
	defaultBackoffMax  = 120 * time.Second
)

// GNMIReader reads sensors exposed by a networked sensor hub over gNMI
type GNMIReader struct {
	address     string
	username    string
	password    string
	port        int
	tlsConfig   *config.TLSConfig
	paths       map[string]*gnmi.Path
	logger      zerolog.Logger
	backoff     Backoff
	dialTimeout time.Duration
	dialer      func(context.Context, string) (net.Conn, error)

	mu      sync.Mutex
	conn    *grpc.ClientConn
	attempt int
	retryAt time.Time
	health  HubHealth
}

// Backoff holds backoff configuration
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// HubHealth tracks connection state for the sensor hub
type HubHealth struct {
	Connected      bool      `json:"connected"`
	LastRead       time.Time `json:"last_read"`
	LastError      string    `json:"last_error,omitempty"`
	ReconnectCount int       `json:"reconnect_count"`
	ReadCount      int64     `json:"read_count"`
	LastPath       string    `json:"last_path,omitempty"`
	LastValue      float64   `json:"last_value"`
	ConnectedSince time.Time `json:"connected_since"`
}

// NewGNMIReader creates a reader for the given sensor-to-path bindings
func NewGNMIReader(cfg *config.GNMIConfig, paths map[string]string, logger zerolog.Logger) (*GNMIReader, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("gnmi reader requires an address")
	}
	parsed := make(map[string]*gnmi.Path, len(paths))
	for sensorID, p := range paths {
		gp, err := parsePath(p)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sensorID, err)
		}
		parsed[sensorID] = gp
	}
	var password string
	if cfg.PasswordEnv != "" {
		password = os.Getenv(cfg.PasswordEnv)
	}
	return &GNMIReader{
		address:     cfg.Address,
		username:    cfg.Username,
		password:    password,
		port:        cfg.Port,
		tlsConfig:   cfg.TLS,
		paths:       parsed,
		logger:      logger.With().Str("component", "gnmi").Str("hub", cfg.Address).Logger(),
		backoff:     Backoff{Min: defaultBackoffMin, Max: defaultBackoffMax},
		dialTimeout: defaultDialTimeout,
	}, nil
}

// Health returns the current hub status
func (g *GNMIReader) Health() HubHealth {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.health
}

// Read issues a gNMI Get for the sensor's path and converts the value
func (g *GNMIReader) Read(ctx context.Context, sensorID string) (float64, error) {
	path, ok := g.paths[sensorID]
	if !ok {
		return 0, fault(sensorID, ErrUnknownSensor)
	}

	client, err := g.client(ctx)
	if err != nil {
		return 0, fault(sensorID, err)
	}

	resp, err := client.Get(ctx, &gnmi.GetRequest{Path: []*gnmi.Path{path}})
	if err != nil {
		g.markFailed(err)
		return 0, fault(sensorID, fmt.Errorf("gnmi get: %w", err))
	}

	value, err := notificationValue(resp.GetNotification())
	if err != nil {
		return 0, fault(sensorID, err)
	}

	g.mu.Lock()
	g.health.LastRead = time.Now()
	g.health.ReadCount++
	g.health.LastPath = pathToString(path)
	g.health.LastValue = value
	g.mu.Unlock()

	return value, nil
}

// client returns a connected gNMI client, dialing if needed. While a
// previous attempt is backing off it fails fast with ErrHubUnavailable.
func (g *GNMIReader) client(ctx context.Context) (gnmi.GNMIClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		return gnmi.NewGNMIClient(g.conn), nil
	}
	if wait := time.Until(g.retryAt); wait > 0 {
		return nil, fmt.Errorf("%w: retry in %s", ErrHubUnavailable, wait.Round(time.Millisecond))
	}

	conn, err := g.dial(ctx)
	if err != nil {
		g.attempt++
		backoff := g.backoffDuration(g.attempt)
		g.retryAt = time.Now().Add(backoff)
		g.health.Connected = false
		g.health.LastError = err.Error()
		g.health.ReconnectCount++

		g.logger.Warn().
			Err(err).
			Dur("backoff", backoff).
			Int("attempt", g.attempt).
			Msg("gNMI connection failed, backing off")
		return nil, fmt.Errorf("%w: %v", ErrHubUnavailable, err)
	}

	g.conn = conn
	g.attempt = 0
	g.retryAt = time.Time{}
	g.health.Connected = true
	g.health.LastError = ""
	g.health.ConnectedSince = time.Now()
	g.logger.Info().Msg("gNMI connection established")

	return gnmi.NewGNMIClient(conn), nil
}

// dial attempts a single connection
func (g *GNMIReader) dial(ctx context.Context) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("%s:%d", g.address, g.port)

	dialCtx, cancel := context.WithTimeout(ctx, g.dialTimeout)
	defer cancel()

	opts, err := g.dialOptions()
	if err != nil {
		return nil, fmt.Errorf("dial options: %w", err)
	}

	// WithBlock so the connection is established before the dial context ends
	conn, err := grpc.DialContext(dialCtx, addr, append(opts, grpc.WithBlock())...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial sensor hub: %w", err)
	}
	return conn, nil
}

// markFailed drops the connection when the hub stops answering
func (g *GNMIReader) markFailed(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.health.LastError = err.Error()
	if status.Code(err) != codes.Unavailable || g.conn == nil {
		return
	}
	g.conn.Close()
	g.conn = nil
	g.health.Connected = false
}

// dialOptions builds gRPC dial options
func (g *GNMIReader) dialOptions() ([]grpc.DialOption, error) {
	creds, err := g.transportCredentials()
	if err != nil {
		return nil, err
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
	}
	if g.username != "" || g.password != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&basicAuth{username: g.username, password: g.password}))
	}
	if g.dialer != nil {
		opts = append(opts, grpc.WithContextDialer(g.dialer))
	}
	return opts, nil
}

// transportCredentials returns appropriate transport credentials
func (g *GNMIReader) transportCredentials() (credentials.TransportCredentials, error) {
	if g.tlsConfig == nil || !g.tlsConfig.Enabled {
		return insecure.NewCredentials(), nil
	}

	certPool, err := loadCertPool(g.tlsConfig.CAFile)
	if err != nil {
		return nil, err
	}
	certs, err := loadClientCert(g.tlsConfig.CertFile, g.tlsConfig.KeyFile)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(&tls.Config{
		RootCAs:            certPool,
		Certificates:       certs,
		ServerName:         g.tlsConfig.ServerName,
		InsecureSkipVerify: g.tlsConfig.InsecureSkipVerify,
	}), nil
}

// loadCertPool loads CA certificates
func loadCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return x509.NewCertPool(), nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("invalid ca certs")
	}
	return pool, nil
}

// loadClientCert loads client certificate and key
func loadClientCert(certFile, keyFile string) ([]tls.Certificate, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	return []tls.Certificate{cert}, nil
}

// basicAuth implements gRPC PerRPCCredentials for basic auth
type basicAuth struct {
	username string
	password string
}

func (b *basicAuth) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	if b.username == "" && b.password == "" {
		return nil, nil
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	return map[string]string{
		"authorization": "Basic " + encoded,
	}, nil
}

func (b *basicAuth) RequireTransportSecurity() bool {
	return false
}

// backoffDuration calculates exponential backoff with jitter
func (g *GNMIReader) backoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return g.backoff.Min
	}
	backoff := g.backoff.Min << attempt
	if backoff > g.backoff.Max || backoff <= 0 {
		backoff = g.backoff.Max
	}
	jitter := time.Duration(rand.Int63n(int64(g.backoff.Min)))
	return backoff + jitter
}

// Close closes the gNMI connection
func (g *GNMIReader) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

// notificationValue returns the first update value in a Get response
func notificationValue(notifs []*gnmi.Notification) (float64, error) {
	for _, n := range notifs {
		for _, u := range n.GetUpdate() {
			return typedValueToFloat(u.GetVal())
		}
	}
	return 0, fmt.Errorf("gnmi get returned no updates")
}

// parsePath parses a string path into a gNMI Path
func parsePath(path string) (*gnmi.Path, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("path is empty")
	}
	parts := strings.Split(trimmed, "/")
	elems := make([]*gnmi.PathElem, 0, len(parts))
	for _, part := range parts {
		name, keys, err := parsePathElem(part)
		if err != nil {
			return nil, err
		}
		elems = append(elems, &gnmi.PathElem{Name: name, Key: keys})
	}
	return &gnmi.Path{Elem: elems}, nil
}

// parsePathElem parses a path element with optional keys
func parsePathElem(segment string) (string, map[string]string, error) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return "", nil, fmt.Errorf("path segment empty")
	}
	name := segment
	keys := map[string]string{}
	for {
		open := strings.Index(name, "[")
		if open == -1 {
			break
		}
		end := strings.Index(name[open:], "]")
		if end == -1 {
			return "", nil, fmt.Errorf("invalid key selector in %s", segment)
		}
		end += open
		kv := strings.SplitN(name[open+1:end], "=", 2)
		if len(kv) != 2 {
			return "", nil, fmt.Errorf("invalid key selector %s", name[open+1:end])
		}
		keys[kv[0]] = kv[1]
		name = name[:open] + name[end+1:]
	}
	if len(keys) == 0 {
		keys = nil
	}
	return name, keys, nil
}

// pathToString converts a gNMI Path to string representation
func pathToString(path *gnmi.Path) string {
	if path == nil {
		return ""
	}
	var b strings.Builder
	for _, elem := range path.Elem {
		b.WriteString("/")
		b.WriteString(elem.Name)
		keys := make([]string, 0, len(elem.Key))
		for k := range elem.Key {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "[%s=%s]", k, elem.Key[k])
		}
	}
	return b.String()
}

// typedValueToFloat converts a gNMI TypedValue into a sensor reading
func typedValueToFloat(value *gnmi.TypedValue) (float64, error) {
	if value == nil {
		return 0, fmt.Errorf("empty value")
	}
	switch v := value.Value.(type) {
	case *gnmi.TypedValue_IntVal:
		return float64(v.IntVal), nil
	case *gnmi.TypedValue_UintVal:
		return float64(v.UintVal), nil
	case *gnmi.TypedValue_DoubleVal:
		return v.DoubleVal, nil
	case *gnmi.TypedValue_FloatVal:
		return float64(v.FloatVal), nil
	case *gnmi.TypedValue_DecimalVal:
		return float64(v.DecimalVal.Digits) / math.Pow10(int(v.DecimalVal.Precision)), nil
	case *gnmi.TypedValue_BoolVal:
		if v.BoolVal {
			return 1, nil
		}
		return 0, nil
	case *gnmi.TypedValue_StringVal:
		return parseScalar(v.StringVal)
	case *gnmi.TypedValue_AsciiVal:
		return parseScalar(v.AsciiVal)
	case *gnmi.TypedValue_JsonVal:
		return jsonScalar(v.JsonVal)
	case *gnmi.TypedValue_JsonIetfVal:
		return jsonScalar(v.JsonIetfVal)
	default:
		return 0, fmt.Errorf("unsupported value type %T", value.Value)
	}
}

func parseScalar(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "open":
		return 1, nil
	case "false", "off", "closed":
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric value %q", s)
	}
	return f, nil
}

// jsonScalar accepts a bare JSON number, bool or numeric string
func jsonScalar(raw []byte) (float64, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode json value: %w", err)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseScalar(t)
	default:
		return 0, fmt.Errorf("json value is not a scalar: %s", raw)
	}
}
