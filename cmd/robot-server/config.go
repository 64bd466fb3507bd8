package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds only ambient operational knobs (logging, metrics,
// session admission, mDNS). Protocol behavior (the port-probe starting
// point, the phase timeouts, the delimiter, the key table) is fixed and
// is never configurable via flag or environment.
type appConfig struct {
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	maxSessions     int
	rateLimitN      int
	rateLimitWindow time.Duration
	shutdownTimeout time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	maxSessions := flag.Int("max-sessions", 0, "Maximum simultaneous sessions (0 = unlimited)")
	rateLimitN := flag.Int("accept-rate-limit", 20, "Max accepted connections per remote IP per accept-rate-window (0 disables)")
	rateLimitWindow := flag.Duration("accept-rate-window", 10*time.Second, "Sliding window for accept-rate-limit")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "Grace period to drain in-flight sessions on shutdown")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the robot server")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default robot-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxSessions = *maxSessions
	cfg.rateLimitN = *rateLimitN
	cfg.rateLimitWindow = *rateLimitWindow
	cfg.shutdownTimeout = *shutdownTimeout
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.maxSessions < 0 {
		return fmt.Errorf("max-sessions must be >= 0")
	}
	if c.rateLimitN < 0 {
		return fmt.Errorf("accept-rate-limit must be >= 0")
	}
	if c.rateLimitN > 0 && c.rateLimitWindow <= 0 {
		return fmt.Errorf("accept-rate-window must be > 0 when accept-rate-limit > 0")
	}
	if c.shutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps ROBOT_SERVER_* environment variables onto cfg
// unless the corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["log-format"]; !ok {
		if v, ok := get("ROBOT_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("ROBOT_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("ROBOT_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["max-sessions"]; !ok {
		if v, ok := get("ROBOT_SERVER_MAX_SESSIONS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxSessions = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ROBOT_SERVER_MAX_SESSIONS: %w", err)
			}
		}
	}
	if _, ok := set["accept-rate-limit"]; !ok {
		if v, ok := get("ROBOT_SERVER_ACCEPT_RATE_LIMIT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.rateLimitN = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ROBOT_SERVER_ACCEPT_RATE_LIMIT: %w", err)
			}
		}
	}
	if _, ok := set["accept-rate-window"]; !ok {
		if v, ok := get("ROBOT_SERVER_ACCEPT_RATE_WINDOW"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.rateLimitWindow = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ROBOT_SERVER_ACCEPT_RATE_WINDOW: %w", err)
			}
		}
	}
	if _, ok := set["shutdown-timeout"]; !ok {
		if v, ok := get("ROBOT_SERVER_SHUTDOWN_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.shutdownTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ROBOT_SERVER_SHUTDOWN_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("ROBOT_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("ROBOT_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("ROBOT_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ROBOT_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
