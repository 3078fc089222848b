// Package config loads gateway configuration from defaults, an optional YAML
// file, environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is returned by Validate for unusable settings.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete gateway configuration.
type Config struct {
	Gateway  GatewayConfig
	Upstream UpstreamConfig
	Debug    bool
}

// GatewayConfig configures the client-facing side.
type GatewayConfig struct {
	Host               string
	Port               int
	CORSOrigins        []string
	RateLimitRPS       int    // 0 disables rate limiting
	RateLimitKeyHeader string // empty keys rate limits on client IP
	MaxBodyBytes       int64
	GRPCHealthPort     int // 0 disables the gRPC health server
	ServerName         string
	ServerVersion      string
}

// UpstreamConfig configures the completion service the gateway bridges to.
type UpstreamConfig struct {
	URL            string
	Model          string
	Stream         bool
	RequestTimeout time.Duration
	Temperature    float64
	MaxTokens      int
	MaxIdleConns   int
	MaxLineBytes   int
	HealthInterval time.Duration
	HealthPath     string
}

// Addr is the HTTP listen address.
func (c GatewayConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HealthURL is the upstream endpoint probed by the health checker.
func (c UpstreamConfig) HealthURL() string {
	return strings.TrimRight(c.URL, "/") + "/" + strings.TrimLeft(c.HealthPath, "/")
}

// legacyEnv maps configuration keys to the environment variable names used
// by earlier deployments of the gateway.
var legacyEnv = map[string]string{
	"upstream.url":             "BACKEND_URL",
	"upstream.model":           "MODEL_NAME",
	"upstream.request_timeout": "REQUEST_TIMEOUT",
	"upstream.stream":          "LLM_STREAM",
	"gateway.cors_origins":     "CORS_ALLOW_ORIGINS",
	"gateway.port":             "PORT",
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 7373)
	v.SetDefault("gateway.cors_origins", []string{"http://localhost"})
	v.SetDefault("gateway.rate_limit_rps", 20)
	v.SetDefault("gateway.rate_limit_key_header", "")
	v.SetDefault("gateway.max_body_bytes", 1<<20)
	v.SetDefault("gateway.grpc_health_port", 0)
	v.SetDefault("gateway.server_name", "DevOps AI Assistant")
	v.SetDefault("gateway.server_version", "1.5.0")
	v.SetDefault("upstream.url", "http://localhost:8000")
	v.SetDefault("upstream.model", "llama-3.2-1b-instruct")
	v.SetDefault("upstream.stream", true)
	v.SetDefault("upstream.request_timeout", "120s")
	v.SetDefault("upstream.temperature", 0.7)
	v.SetDefault("upstream.max_tokens", 1000)
	v.SetDefault("upstream.max_idle_conns", 32)
	v.SetDefault("upstream.max_line_bytes", 1<<20)
	v.SetDefault("upstream.health_interval", "30s")
	v.SetDefault("upstream.health_path", "/v1/health")
	v.SetDefault("debug", false)
}

// Load reads the configuration. When the "config" key names a file it must
// exist; otherwise gateway.yaml is looked up in ./configs and . and a
// missing file is tolerated.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		autoEnv := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, autoEnv, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	timeout, err := parseSeconds(v.GetString("upstream.request_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: upstream.request_timeout: %v", ErrInvalid, err)
	}
	interval, err := parseSeconds(v.GetString("upstream.health_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: upstream.health_interval: %v", ErrInvalid, err)
	}

	cfg := Config{
		Gateway: GatewayConfig{
			Host:               v.GetString("gateway.host"),
			Port:               v.GetInt("gateway.port"),
			CORSOrigins:        splitList(v.GetStringSlice("gateway.cors_origins")),
			RateLimitRPS:       v.GetInt("gateway.rate_limit_rps"),
			RateLimitKeyHeader: strings.TrimSpace(v.GetString("gateway.rate_limit_key_header")),
			MaxBodyBytes:       v.GetInt64("gateway.max_body_bytes"),
			GRPCHealthPort:     v.GetInt("gateway.grpc_health_port"),
			ServerName:         v.GetString("gateway.server_name"),
			ServerVersion:      v.GetString("gateway.server_version"),
		},
		Upstream: UpstreamConfig{
			URL:            strings.TrimRight(v.GetString("upstream.url"), "/"),
			Model:          v.GetString("upstream.model"),
			Stream:         v.GetBool("upstream.stream"),
			RequestTimeout: timeout,
			Temperature:    v.GetFloat64("upstream.temperature"),
			MaxTokens:      v.GetInt("upstream.max_tokens"),
			MaxIdleConns:   v.GetInt("upstream.max_idle_conns"),
			MaxLineBytes:   v.GetInt("upstream.max_line_bytes"),
			HealthInterval: interval,
			HealthPath:     v.GetString("upstream.health_path"),
		},
		Debug: v.GetBool("debug"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Gateway.Port <= 0 || c.Gateway.Port > 65535:
		return fmt.Errorf("%w: gateway.port %d out of range", ErrInvalid, c.Gateway.Port)
	case c.Gateway.GRPCHealthPort < 0 || c.Gateway.GRPCHealthPort > 65535:
		return fmt.Errorf("%w: gateway.grpc_health_port %d out of range", ErrInvalid, c.Gateway.GRPCHealthPort)
	case c.Gateway.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: gateway.max_body_bytes must be positive", ErrInvalid)
	case c.Gateway.RateLimitRPS < 0:
		return fmt.Errorf("%w: gateway.rate_limit_rps must not be negative", ErrInvalid)
	case c.Upstream.Temperature < 0 || c.Upstream.Temperature > 2:
		return fmt.Errorf("%w: upstream.temperature %g outside [0, 2]", ErrInvalid, c.Upstream.Temperature)
	case c.Upstream.MaxLineBytes < 4096:
		return fmt.Errorf("%w: upstream.max_line_bytes must be at least 4096", ErrInvalid)
	case c.Upstream.MaxTokens <= 0:
		return fmt.Errorf("%w: upstream.max_tokens must be positive", ErrInvalid)
	case c.Upstream.RequestTimeout <= 0:
		return fmt.Errorf("%w: upstream.request_timeout must be positive", ErrInvalid)
	case c.Upstream.HealthInterval <= 0:
		return fmt.Errorf("%w: upstream.health_interval must be positive", ErrInvalid)
	case c.Upstream.Model == "":
		return fmt.Errorf("%w: upstream.model is empty", ErrInvalid)
	}

	u, err := url.Parse(c.Upstream.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: upstream.url %q is not an absolute URL", ErrInvalid, c.Upstream.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: upstream.url scheme %q not supported", ErrInvalid, u.Scheme)
	}
	return nil
}

// parseSeconds accepts a Go duration ("90s", "2m") or a bare number of
// seconds ("120", "0.5").
func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
