package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Remove surrounding quotes
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort        = "4300"
	defaultEnvironment = "development"

	defaultGatewayURL        = "http://127.0.0.1:18789"
	defaultGatewayEventsPath = "/api/events"
	defaultKeepaliveInterval = 15 * time.Second

	defaultReconnectDelay       = time.Second
	defaultMaxReconnectDelay    = 30 * time.Second
	defaultMaxReconnectAttempts = 10

	defaultBridgeEnabled = true
)

// GatewayConfig locates the upstream agent gateway.
type GatewayConfig struct {
	URL               string
	EventsPath        string
	KeepaliveInterval time.Duration
}

// EventsURL is the gateway's event-stream endpoint.
func (g GatewayConfig) EventsURL() string {
	return strings.TrimRight(g.URL, "/") + g.EventsPath
}

// StreamConfig tunes the bridge's reconnect policy against the gateway.
type StreamConfig struct {
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

type BridgeConfig struct {
	Enabled bool
}

type Config struct {
	Port        string
	DatabaseURL string
	Environment string
	Gateway     GatewayConfig
	Stream      StreamConfig
	Bridge      BridgeConfig
}

func Load() (Config, error) {
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment: resolveEnvironment(),
		Gateway: GatewayConfig{
			URL: firstNonEmpty(
				strings.TrimSpace(os.Getenv("GATEWAY_URL")),
				defaultGatewayURL,
			),
			EventsPath: firstNonEmpty(
				strings.TrimSpace(os.Getenv("GATEWAY_EVENTS_PATH")),
				defaultGatewayEventsPath,
			),
		},
	}

	keepaliveInterval, err := parseDuration("RELAY_KEEPALIVE_INTERVAL", defaultKeepaliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.Gateway.KeepaliveInterval = keepaliveInterval

	reconnectDelay, err := parseDuration("RECONNECT_DELAY", defaultReconnectDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.Stream.ReconnectDelay = reconnectDelay

	maxReconnectDelay, err := parseDuration("MAX_RECONNECT_DELAY", defaultMaxReconnectDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.Stream.MaxReconnectDelay = maxReconnectDelay

	maxReconnectAttempts, err := parseInt("MAX_RECONNECT_ATTEMPTS", defaultMaxReconnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.Stream.MaxReconnectAttempts = maxReconnectAttempts

	bridgeEnabled, err := parseBool("BRIDGE_ENABLED", defaultBridgeEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.Bridge.Enabled = bridgeEnabled

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("PORT must not be empty")
	}

	parsed, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("GATEWAY_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("GATEWAY_URL must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("GATEWAY_URL must include a host")
	}

	if !strings.HasPrefix(c.Gateway.EventsPath, "/") {
		return fmt.Errorf("GATEWAY_EVENTS_PATH must start with a slash")
	}

	if c.Stream.MaxReconnectDelay < c.Stream.ReconnectDelay {
		return fmt.Errorf("MAX_RECONNECT_DELAY must not be less than RECONNECT_DELAY")
	}
	if c.Stream.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be greater than zero")
	}

	return nil
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		strings.TrimSpace(os.Getenv("RAILWAY_ENVIRONMENT")),
		defaultEnvironment,
	))
}

func parseBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}

	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
