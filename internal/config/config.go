// Package config loads server settings from flags, environment and .env files.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shehryarbajwa/custom-frames/internal/convert"
)

const (
	devDataDir  = "./data/images"
	prodDataDir = "/var/data/images"
)

// Config holds every server setting
type Config struct {
	Addr       string
	PublicURL  string
	DataDir    string
	Production bool

	SteamAPIKey string
	RedisAddr   string

	Converter      string
	ConvertBinary  string
	DockerImage    string
	ConvertTimeout time.Duration
	MaxConversions int64

	BannedIDs      []string
	UploadsPerHour int
	UploadBurst    int

	LogLevel string
}

// RegisterFlags declares the server flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "listen address (default :$PORT or :3000)")
	fs.String("public-url", "http://localhost:3000", "externally reachable base URL, used for Steam sign-in")
	fs.String("data-dir", "", "directory holding frame files")
	fs.Bool("production", false, "production mode: secure cookies, JSON logs, /var/data/images")
	fs.String("steam-api-key", "", "Steam Web API key")
	fs.String("redis-addr", "", "Redis address for sessions; memory sessions when empty")
	fs.String("converter", convert.BackendExec, "conversion backend: exec or docker")
	fs.String("convert-binary", convert.DefaultBinary, "ImageMagick binary for the exec backend")
	fs.String("docker-image", convert.DefaultImage, "ImageMagick image for the docker backend")
	fs.Duration("convert-timeout", 30*time.Second, "maximum time a single conversion may take")
	fs.Int64("max-conversions", 4, "maximum concurrent conversions")
	fs.StringSlice("banned-ids", nil, "Steam ids refused from uploading")
	fs.Int("uploads-per-hour", 30, "uploads allowed per user per hour")
	fs.Int("upload-burst", 5, "uploads a user may make back to back")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
}

// Bind wires flags and environment variables into v.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return errors.Wrap(err, "failed to bind flags")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// names used by existing deployments
	envAliases := map[string][]string{
		"addr":         {"ADDR"},
		"public-url":   {"RENDER_EXTERNAL_URL", "PUBLIC_URL"},
		"docker-image": {"CONVERT_IMAGE", "DOCKER_IMAGE"},
	}
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return errors.Wrapf(err, "failed to bind env for %s", key)
		}
	}

	return nil
}

// Load reads the settings out of v and applies derived defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Addr:           v.GetString("addr"),
		PublicURL:      strings.TrimRight(v.GetString("public-url"), "/"),
		DataDir:        v.GetString("data-dir"),
		Production:     v.GetBool("production") || v.GetString("NODE_ENV") == "production",
		SteamAPIKey:    v.GetString("steam-api-key"),
		RedisAddr:      v.GetString("redis-addr"),
		Converter:      v.GetString("converter"),
		ConvertBinary:  v.GetString("convert-binary"),
		DockerImage:    v.GetString("docker-image"),
		ConvertTimeout: v.GetDuration("convert-timeout"),
		MaxConversions: v.GetInt64("max-conversions"),
		BannedIDs:      splitList(v.GetStringSlice("banned-ids")),
		UploadsPerHour: v.GetInt("uploads-per-hour"),
		UploadBurst:    v.GetInt("upload-burst"),
		LogLevel:       v.GetString("log-level"),
	}

	if cfg.Addr == "" {
		port := v.GetString("PORT")
		if port == "" {
			port = "3000"
		}
		cfg.Addr = ":" + port
	}

	if cfg.DataDir == "" {
		cfg.DataDir = devDataDir
		if cfg.Production {
			cfg.DataDir = prodDataDir
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.SteamAPIKey == "" {
		return errors.New("steam-api-key is required")
	}

	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("public-url %q is not an absolute URL", c.PublicURL)
	}

	switch c.Converter {
	case convert.BackendExec, convert.BackendDocker:
	default:
		return errors.Errorf("unknown converter %q", c.Converter)
	}

	if c.ConvertTimeout <= 0 {
		return errors.New("convert-timeout must be positive")
	}
	if c.MaxConversions < 1 {
		return errors.New("max-conversions must be at least 1")
	}
	if c.UploadsPerHour < 1 || c.UploadBurst < 1 {
		return errors.New("upload limits must be at least 1")
	}

	return nil
}

// CallbackURL is where Steam sends users back after sign-in.
func (c *Config) CallbackURL() string {
	return c.PublicURL + "/auth"
}

// splitList accepts both repeated values and a single comma separated
// environment variable.
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
