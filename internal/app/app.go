// Package app builds the guard's components from Config and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"zero-trust-session-guard/internal/config"
	"zero-trust-session-guard/internal/db"
	"zero-trust-session-guard/internal/logging"
	"zero-trust-session-guard/internal/policy"
	"zero-trust-session-guard/internal/policy/engine"
	"zero-trust-session-guard/internal/securestore"
	"zero-trust-session-guard/internal/securityevent"
	"zero-trust-session-guard/internal/securityevent/repository"
	"zero-trust-session-guard/internal/session"
	"zero-trust-session-guard/internal/telemetry"
	otelsetup "zero-trust-session-guard/internal/telemetry/otel"
	"zero-trust-session-guard/internal/token"
	"zero-trust-session-guard/internal/transport"
)

// App holds the wired components. Close releases them.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     securestore.Store
	Tokens    *token.Manager
	Sessions  *session.ClaimsProvider
	Events    *securityevent.Log
	Privilege *engine.OPAEvaluator
	Validator *policy.Validator
	Transport *transport.Client
	Recorder  *telemetry.Recorder

	closers []func(context.Context) error
}

type options struct {
	store     securestore.Store
	repo      repository.Repository
	navigator transport.Navigator
	exchanger token.Exchanger
	client    *http.Client
}

// Option overrides a component New would otherwise build from Config.
type Option func(*options)

// WithStore uses s instead of opening the bbolt store.
func WithStore(s securestore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRepository uses r instead of the configured event log backend.
func WithRepository(r repository.Repository) Option {
	return func(o *options) { o.repo = r }
}

// WithNavigator receives redirect-to-login signals from the transport.
func WithNavigator(n transport.Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithExchanger replaces the HTTP refresh exchange.
func WithExchanger(e token.Exchanger) Option {
	return func(o *options) { o.exchanger = e }
}

// WithHTTPClient sends API requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.client = hc }
}

// New wires every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Logger: logging.OrNop(logger)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.AppVersion,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("app: telemetry: %w", err)
	}
	a.closers = append(a.closers, providers.Shutdown)
	providers.SetGlobal()
	a.Recorder, err = telemetry.NewRecorder(providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	emitter := otelsetup.NewEventEmitter(providers.LoggerProvider)

	a.Store = o.store
	if a.Store == nil {
		bolt, err := securestore.OpenBoltStore(cfg.SecureStorePath, cfg.SecureStorePassphrase, securestore.DefaultKDFParams())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return bolt.Close() })
		a.Store = bolt
	}

	exchanger := o.exchanger
	if exchanger == nil {
		exchanger, err = token.NewHTTPExchanger(cfg.APIBaseURL, cfg.RefreshPath, cfg.Timeout())
		if err != nil {
			return nil, err
		}
	}
	a.Tokens = token.NewManager(a.Store, exchanger, a.Logger, token.WithRecorder(a.Recorder))

	var claimsOpts []session.ClaimsOption
	if cfg.IdentityPublicKey != "" {
		pub, err := session.ParsePublicKey(cfg.IdentityPublicKey)
		if err != nil {
			return nil, fmt.Errorf("app: IDENTITY_PUBLIC_KEY: %w", err)
		}
		claimsOpts = append(claimsOpts, session.WithVerificationKey(pub))
	}
	if cfg.IdentityIssuer != "" {
		claimsOpts = append(claimsOpts, session.WithIssuer(cfg.IdentityIssuer))
	}
	a.Sessions = session.NewClaimsProvider(a.Tokens, claimsOpts...)

	repo := o.repo
	if repo == nil {
		repo, err = a.openRepository(cfg)
		if err != nil {
			return nil, err
		}
	}
	a.Events = securityevent.NewLog(repo, emitter, a.Logger,
		securityevent.WithUserAgent(cfg.Platform+"/"+cfg.AppVersion))

	if cfg.PrivilegePolicyFile != "" {
		a.Privilege, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.PrivilegePolicyFile)
	} else {
		a.Privilege, err = engine.NewOPAEvaluator(ctx, "")
	}
	if err != nil {
		return nil, fmt.Errorf("app: privilege policy: %w", err)
	}

	a.Validator = policy.NewValidator(a.Sessions, a.Events, a.Privilege, a.Logger,
		policy.WithRecorder(a.Recorder), policy.WithRefresher(a.Tokens))

	a.Transport, err = transport.New(transport.Config{
		BaseURL:      cfg.APIBaseURL,
		AllowedHosts: cfg.AllowedHosts(),
		Timeout:      cfg.Timeout(),
		Platform:     cfg.Platform,
		AppVersion:   cfg.AppVersion,
	}, a.Tokens, o.navigator, a.Logger, transport.WithRecorder(a.Recorder), transport.WithHTTPClient(o.client))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openRepository(cfg *config.Config) (repository.Repository, error) {
	switch cfg.EventLogBackend {
	case config.BackendPostgres:
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		return repository.NewPostgresRepository(conn), nil
	case config.BackendRedis:
		repo, client, err := repository.NewRedisRepositoryFromURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return repo, nil
	default:
		return repository.NewMemoryRepository(), nil
	}
}

// Close waits for background session cleanups, then releases resources in reverse order.
func (a *App) Close(ctx context.Context) error {
	if a.Transport != nil {
		a.Transport.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
