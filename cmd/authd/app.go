package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	auth "github.com/goliatone/go-auth-issuer"
	"github.com/goliatone/go-auth-issuer/assets"
	"github.com/goliatone/go-auth-issuer/config"
	"github.com/goliatone/go-auth-issuer/federation"
	"github.com/goliatone/go-auth-issuer/federation/providers/oidc"
	"github.com/goliatone/go-auth-issuer/httpapi"
	"github.com/goliatone/go-auth-issuer/metrics"
	"github.com/goliatone/go-auth-issuer/persistence"
)

// app holds the wired service.
type app struct {
	cfg       *config.Config
	zap       *zap.Logger
	logger    auth.Logger
	db        *bun.DB
	registry  *prometheus.Registry
	collector *metrics.Collector
	issuer    *auth.JWTIssuer
	accounts  *auth.Accounts
	reconcile *federation.Reconciler
	providers *federation.Registry
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	zl, err := newZapLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		zap:      zl,
		logger:   auth.NewZapLogger(zl),
		registry: prometheus.NewRegistry(),
	}
	a.closers = append(a.closers, func() { _ = zl.Sync() })

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.collector = metrics.NewCollector(a.registry)

	if err := a.openDB(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.issuer = auth.NewJWTIssuer([]byte(cfg.Token.SigningKey), cfg.Token.Issuer, cfg.Token.Audience,
		auth.WithIssuerLogger(a.logger),
	)
	issuance := auth.NewIssuance(cfg.Token.TTL(), a.issuer, auth.WithIssuanceMetrics(a.collector))
	users := auth.NewUsersRepository(a.db, auth.WithPhoneRegion(cfg.Accounts.PhoneRegion))
	activity := auth.NewLogActivitySink(a.logger)

	a.accounts = auth.NewAccounts(users, issuance,
		auth.WithAccountsLogger(a.logger),
		auth.WithActivitySink(activity),
		auth.WithAccountsPhoneRegion(cfg.Accounts.PhoneRegion),
	)

	store, err := newAssetStore(ctx, cfg.Assets)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetcher := federation.NewHTTPAvatarFetcher(
		federation.WithAvatarHTTPClient(federation.NewSafeHTTPClient(cfg.Assets.FetchTimeout)),
		federation.WithAvatarMaxBytes(cfg.Assets.AvatarMaxBytes),
	)

	a.reconcile = federation.NewReconciler(users, issuance,
		federation.WithAssets(store, fetcher),
		federation.WithLogger(a.logger),
		federation.WithActivitySink(activity),
		federation.WithMetrics(a.collector),
		federation.WithDefaultRole(cfg.Federation.DefaultRole),
		federation.WithAvatarPrefix(cfg.Assets.AvatarPrefix),
	)

	if err := a.loadProviders(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) openDB(ctx context.Context) error {
	db, err := persistence.Open(ctx, persistence.Config{
		Driver:       a.cfg.Database.Driver,
		DSN:          a.cfg.Database.DSN,
		Debug:        a.cfg.Database.Debug,
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	return nil
}

func (a *app) loadProviders(ctx context.Context) error {
	a.providers = federation.NewRegistry()
	if len(a.cfg.Federation.Providers) == 0 {
		return nil
	}

	states := federation.NewEncryptedStateCodec([]byte(a.cfg.Federation.StateSecret), a.cfg.Federation.StateTTL)
	for _, pc := range a.cfg.Federation.Providers {
		p, err := oidc.NewWithJWKS(ctx, oidc.Config{
			Name:         pc.Name,
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
			AuthURL:      pc.AuthURL,
			TokenURL:     pc.TokenURL,
			Issuer:       pc.Issuer,
			JWKSURL:      pc.JWKSURL,
			Scopes:       pc.Scopes,
			Logger:       a.logger,
		}, states)
		if err != nil {
			return err
		}
		a.providers.Register(p)
		a.closers = append(a.closers, p.Close)
		a.logger.Info("federated provider %s ready", pc.Name)
	}
	return nil
}

func newAssetStore(ctx context.Context, cfg config.Assets) (assets.Store, error) {
	switch cfg.Backend {
	case config.AssetsMemory:
		return assets.NewMemoryStore(), nil
	case config.AssetsLocal:
		return assets.NewLocalStore(cfg.LocalRoot)
	case config.AssetsS3:
		primary, err := assets.NewS3StoreFromConfig(ctx, assets.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		if cfg.LocalRoot == "" {
			return primary, nil
		}
		legacy, err := assets.NewLocalStore(cfg.LocalRoot)
		if err != nil {
			return nil, err
		}
		return assets.NewMultiStore(primary, legacy), nil
	}
	return nil, fmt.Errorf("unknown assets backend %q", cfg.Backend)
}

// HTTP builds the fiber app.
func (a *app) HTTP() *fiber.App {
	server := httpapi.NewApp(a.logger)
	server.Use(recover.New())

	opts := []httpapi.Option{
		httpapi.WithLogger(a.logger),
		httpapi.WithTokenParser(a.issuer),
		httpapi.WithSelfRegisterMaxRole(a.cfg.Accounts.SelfRegisterMaxRole),
		httpapi.WithHashidUserIDs(a.cfg.Accounts.UseHashid),
		httpapi.WithRedirects(a.cfg.HTTP.SuccessRedirectURL, a.cfg.HTTP.ErrorRedirectURL),
	}
	if len(a.providers.Names()) > 0 {
		opts = append(opts, httpapi.WithFederation(a.reconcile, a.providers))
	}

	httpapi.NewController(a.accounts, opts...).Mount(server.Group(a.cfg.HTTP.BasePath))

	if a.cfg.HTTP.Metrics {
		httpapi.MountMetrics(server, "/metrics", metrics.Handler(a.registry))
	}

	return server
}

// Close releases resources in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
