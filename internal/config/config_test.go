package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/custom-frames/internal/config"
)

func load(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))

	v := viper.New()
	require.NoError(t, config.Bind(v, fs))
	return config.Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STEAM_API_KEY", "key")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "http://localhost:3000", cfg.PublicURL)
	assert.Equal(t, "http://localhost:3000/auth", cfg.CallbackURL())
	assert.Equal(t, "./data/images", cfg.DataDir)
	assert.False(t, cfg.Production)
	assert.Equal(t, "exec", cfg.Converter)
	assert.Equal(t, "convert", cfg.ConvertBinary)
	assert.Equal(t, 30*time.Second, cfg.ConvertTimeout)
	assert.Equal(t, int64(4), cfg.MaxConversions)
	assert.Empty(t, cfg.BannedIDs)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("STEAM_API_KEY", "key")
	t.Setenv("PORT", "8080")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("RENDER_EXTERNAL_URL", "https://frames.example.com/")
	t.Setenv("BANNED_IDS", "111, 222,,333")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.True(t, cfg.Production)
	assert.Equal(t, "/var/data/images", cfg.DataDir)
	assert.Equal(t, "https://frames.example.com", cfg.PublicURL)
	assert.Equal(t, []string{"111", "222", "333"}, cfg.BannedIDs)
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	t.Setenv("STEAM_API_KEY", "key")

	cfg, err := load(t, "--addr", "127.0.0.1:9000", "--converter", "docker", "--data-dir", "/tmp/frames", "--banned-ids", "1,2")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "docker", cfg.Converter)
	assert.Equal(t, "/tmp/frames", cfg.DataDir)
	assert.Equal(t, []string{"1", "2"}, cfg.BannedIDs)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STEAM_API_KEY", "")
	_, err := load(t)
	assert.ErrorContains(t, err, "steam-api-key")

	t.Setenv("STEAM_API_KEY", "key")

	_, err = load(t, "--converter", "gimp")
	assert.ErrorContains(t, err, "converter")

	_, err = load(t, "--public-url", "frames.example.com")
	assert.ErrorContains(t, err, "public-url")

	_, err = load(t, "--max-conversions", "0")
	assert.Error(t, err)
}
