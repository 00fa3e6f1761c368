package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shehryarbajwa/custom-frames/internal/api"
	"github.com/shehryarbajwa/custom-frames/internal/config"
	"github.com/shehryarbajwa/custom-frames/internal/convert"
	"github.com/shehryarbajwa/custom-frames/internal/frames"
	"github.com/shehryarbajwa/custom-frames/internal/identity"
	"github.com/shehryarbajwa/custom-frames/internal/live"
	"github.com/shehryarbajwa/custom-frames/internal/metrics"
	"github.com/shehryarbajwa/custom-frames/internal/ratelimit"
	"github.com/shehryarbajwa/custom-frames/internal/session"
	"github.com/shehryarbajwa/custom-frames/internal/upload"
)

const (
	startupTimeout  = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
	limiterIdle     = time.Hour
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using system environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "custom-frames",
		Short:         "Upload, convert and share Steam frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				log.Error().Err(err).Msg("Invalid configuration")
				return err
			}
			setupLogging(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("Server failed")
				return err
			}
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags())
	if err := config.Bind(v, cmd.Flags()); err != nil {
		panic(err)
	}

	return cmd
}

// setupLogging configures the global logger: human readable in
// development, JSON in production.
func setupLogging(cfg *config.Config, out io.Writer) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Production {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("addr", cfg.Addr).Bool("production", cfg.Production).Msg("Starting Custom Frames...")

	// Initialize converter, pulling the image first for the docker backend
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	converter, err := convert.New(startCtx, convert.Options{
		Backend:       cfg.Converter,
		Binary:        cfg.ConvertBinary,
		Image:         cfg.DockerImage,
		Timeout:       cfg.ConvertTimeout,
		MaxConcurrent: cfg.MaxConversions,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create converter")
	}
	defer converter.Close()
	log.Info().Str("backend", cfg.Converter).Int64("max_concurrent", cfg.MaxConversions).Msg("✓ Converter initialized")

	// Initialize frame store
	store, err := frames.NewStore(cfg.DataDir, converter)
	if err != nil {
		return errors.Wrap(err, "failed to create frame store")
	}
	log.Info().Str("dir", store.Dir()).Msg("✓ Frame store initialized")

	// Steam
	resolver := identity.NewResolver(cfg.SteamAPIKey)
	signIn := identity.NewSignIn(cfg.PublicURL, cfg.CallbackURL())

	// Initialize session store
	sessionStore, err := newSessionStore(startCtx, cfg)
	if err != nil {
		return err
	}
	defer sessionStore.Close()
	sessions := session.NewManager(sessionStore, cfg.Production)

	// Initialize rate limiter
	limiter := ratelimit.NewLimiter(cfg.UploadsPerHour, cfg.UploadBurst)
	go pruneLimiter(ctx, limiter)
	log.Info().Int("per_hour", cfg.UploadsPerHour).Int("burst", cfg.UploadBurst).Msg("✓ Rate limiter initialized")

	hub := live.NewHub()
	defer hub.Close()

	handler, err := api.NewHandler(api.Deps{
		Store:    store,
		Uploader: upload.NewPipeline(resolver, store, cfg.BannedIDs),
		Profiles: resolver,
		SignIn:   signIn,
		Sessions: sessions,
		Limiter:  limiter,
		Live:     hub,
		Registry: metrics.NewRegistry(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create handler")
	}
	router := handler.SetupRoutes()
	log.Info().Msg("✓ HTTP routes configured")

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("🚀 Server starting on %s", cfg.PublicURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server error")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("⏳ Shutting down server gracefully...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	// Websocket connections are hijacked and not tracked by Shutdown
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	log.Info().Msg("✅ Server stopped cleanly")
	return nil
}

type closableStore interface {
	session.Store
	Close() error
}

// newSessionStore uses Redis when an address is configured and falls back
// to process memory otherwise.
func newSessionStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("✓ Session store initialized (memory)")
		return session.NewMemoryStore(session.DefaultTTL, 10*time.Minute), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	store := session.NewRedisStore(client, session.WithTTL(session.DefaultTTL))
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", cfg.RedisAddr)
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("✓ Session store initialized (redis)")
	return store, nil
}

func pruneLimiter(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(limiterIdle); n > 0 {
				log.Debug().Int("pruned", n).Msg("pruned idle rate limiters")
			}
		}
	}
}
