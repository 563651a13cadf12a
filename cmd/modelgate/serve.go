package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelgate/internal/backend"
	"modelgate/internal/config"
	"modelgate/internal/httpapi"
	"modelgate/internal/privacy"
	"modelgate/internal/registry"
	"modelgate/internal/router"
	"modelgate/internal/service"
	"modelgate/internal/store"
	"modelgate/internal/telemetry"
	"modelgate/internal/tenant"
	"modelgate/pkg/types"
)

type serveFlags struct {
	configPath   string
	envFile      string
	addr         string
	storage      string
	logLevel     string
	corsOrigins  string
	allowedHosts string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, os.Stderr)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", os.Getenv("MODELGATE_CONFIG"), "Config file (.yaml, .json or .toml)")
	fl.StringVar(&f.envFile, "env-file", ".env", "Dotenv file loaded before environment overrides; missing is fine")
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.storage, "storage", "", "Config store: file|sqlite|memory")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	fl.StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated CORS origins; enables CORS")
	fl.StringVar(&f.allowedHosts, "allowed-hosts", "", "Comma-separated hosts always reachable by backends")
	return cmd
}

// loadConfig layers Default, file, .env, environment and finally flags.
func loadConfig(cmd *cobra.Command, f serveFlags) (config.Config, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if fl.Changed("storage") {
		cfg.Storage.Type = f.storage
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fl.Changed("cors-origins") {
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSOrigins = splitCSV(f.corsOrigins)
	}
	if fl.Changed("allowed-hosts") {
		cfg.Privacy.AllowedHosts = append(cfg.Privacy.AllowedHosts, splitCSV(f.allowedHosts)...)
	}
	return cfg, cfg.Validate()
}

// newLogger builds the process logger. With anonymization on, every line
// passes through the privacy scrubber before it is written.
func newLogger(cfg config.Log, enf *privacy.Enforcer, w io.Writer) zerolog.Logger {
	out := w
	if enf.Config().AnonymizeLogs {
		out = enf.SanitizingWriter(out)
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "modelgate").Logger()
}

func tenantSource(cfg config.Tenancy, enf *privacy.Enforcer) tenant.Source {
	if cfg.SourceURL != "" {
		return tenant.NewHTTPSource(cfg.SourceURL, 5*time.Second, enf.GuardTransport(http.DefaultTransport))
	}
	tenants := make([]types.TenantInfo, 0, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		tenants = append(tenants, types.TenantInfo{ID: t.ID, Slug: t.Slug, Name: t.Name, Active: t.Active})
	}
	return tenant.NewStaticSource(tenants...)
}

// buildService wires storage, backends, registry and router.
func buildService(cfg config.Config, enf *privacy.Enforcer, log zerolog.Logger) (*service.Service, func() error, error) {
	st, err := store.Open(store.Options{Type: cfg.Storage.Type, Dir: cfg.Storage.Dir, SQLitePath: cfg.Storage.SQLitePath})
	if err != nil {
		return nil, nil, fmt.Errorf("open config store: %w", err)
	}
	cat := backend.NewCatalog(backend.Deps{
		Guard:       enf.GuardTransport,
		ValidateURL: enf.ValidateExternalRequest,
		Sanitize:    enf.SanitizeErrorMessage,
		Logger:      log,
	})
	backend.RegisterBuiltins(cat)

	reg := registry.New(registry.Config{
		Catalog:   cat,
		Store:     st,
		Validator: enf,
		Defaults: map[types.BackendType]map[string]any{
			types.BackendOllama:   cfg.Backends.Ollama.Map(),
			types.BackendOpenAI:   cfg.Backends.OpenAI.Map(),
			types.BackendLlamaCpp: cfg.Backends.LlamaCpp.Map(),
		},
		Sanitize:          enf.SanitizeErrorMessage,
		Publisher:         registry.NewLogPublisher(log),
		Logger:            log,
		HealthInterval:    cfg.Registry.HealthInterval.Std(),
		HealthConcurrency: cfg.Registry.HealthConcurrency,
	})
	rt := router.New(router.Config{
		MaxConcurrentPerTenant: cfg.Router.MaxConcurrentPerTenant,
		RequestTimeout:         cfg.Router.RequestTimeout.Std(),
		DefaultContextLength:   cfg.Router.DefaultContextLength,
	}, reg, router.Deps{Validator: enf, Sanitize: enf.SanitizeErrorMessage, Logger: log})
	svc := service.New(reg, rt, service.Options{Sanitize: enf.SanitizeErrorMessage, Logger: log})
	return svc, st.Close, nil
}

func configureHTTP(ctx context.Context, cfg config.Config, enf *privacy.Enforcer, log zerolog.Logger) {
	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(cfg.Log.Level)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetRPCTimeout(cfg.Server.RPCTimeout.Std())
	httpapi.SetSanitizer(enf.SanitizeErrorMessage)
	httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		[]string{"Content-Type", "X-Request-ID", "X-Log-Level", cfg.Tenancy.Header})
}

func serve(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	enf := privacy.New(privacy.Config{
		BlockExternalRequests: cfg.Privacy.BlockExternalRequests,
		LocalOnly:             cfg.Privacy.LocalOnly,
		AnonymizeLogs:         cfg.Privacy.AnonymizeLogs,
		AllowedHosts:          cfg.Privacy.AllowedHosts,
	})
	log := newLogger(cfg.Log, enf, logOut)

	if cfg.Telemetry.TracingEnabled {
		shutdown, err := telemetry.InitTracer(telemetry.Options{ServiceName: cfg.Telemetry.ServiceName, Logger: log})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	svc, closeStore, err := buildService(cfg, enf, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Str("event", "store_close_failed").Err(err).Msg("")
		}
	}()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}

	resolver := tenant.NewResolver(tenant.Config{
		IsolationEnabled: cfg.Tenancy.IsolationEnabled,
		DefaultTenant:    cfg.Tenancy.DefaultTenant,
		Header:           cfg.Tenancy.Header,
		CacheTTL:         cfg.Tenancy.CacheTTL.Std(),
		CacheSize:        cfg.Tenancy.CacheSize,
	}, tenantSource(cfg.Tenancy, enf), log)

	configureHTTP(ctx, cfg, enf, log)
	var handler http.Handler = httpapi.NewMux(svc, resolver)
	if cfg.Telemetry.TracingEnabled {
		handler = telemetry.Middleware("modelgate")(handler)
	}
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("event", "http_listen").Str("addr", cfg.Server.Addr).Str("storage", cfg.Storage.Type).Msg("modelgate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Str("event", "http_shutdown_failed").Err(err).Msg("")
	}
	if err := svc.Stop(sctx); err != nil {
		log.Warn().Str("event", "registry_stop_failed").Str("error", enf.SanitizeErrorMessage(err.Error())).Msg("")
	}
	log.Info().Str("event", "shutdown_complete").Msg("")
	return serveErr
}
