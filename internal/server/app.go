// Package server wires the identity service together: database and
// migrations, password hashing, token issuing, blob storage, and the HTTP
// and gRPC transports. It also handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/logging"
	"github.com/dmitrijs2005/tubeauth/internal/server/auth"
	"github.com/dmitrijs2005/tubeauth/internal/server/blobstore"
	"github.com/dmitrijs2005/tubeauth/internal/server/config"
	"github.com/dmitrijs2005/tubeauth/internal/server/httpapi"
	"github.com/dmitrijs2005/tubeauth/internal/server/password"
	"github.com/dmitrijs2005/tubeauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tubeauth/internal/server/services"

	gs "github.com/dmitrijs2005/tubeauth/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	sessions *services.SessionService
	profiles *services.ProfileService
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		AccessKey:     c.S3AccessKey,
		SecretKey:     c.S3SecretKey,
		Bucket:        c.S3Bucket,
		Region:        c.S3Region,
		BaseEndpoint:  c.S3BaseEndpoint,
		PublicBaseURL: c.S3PublicBaseURL,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	hasher := password.NewHasher(password.Params{
		Memory:      c.Argon2Memory,
		Iterations:  c.Argon2Iterations,
		Parallelism: c.Argon2Parallelism,
	})

	tokens := auth.NewIssuer(auth.Config{
		Issuer:        c.TokenIssuer,
		AccessSecret:  []byte(c.AccessTokenSecret),
		RefreshSecret: []byte(c.RefreshTokenSecret),
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
	}, nil)

	ss := services.NewSessionService(db, rm, hasher, tokens, blobs, logger, services.SessionOptions{
		RevokeSessionsOnPasswordChange: c.RevokeSessionsOnPasswordChange,
	})
	ps := services.NewProfileService(db, rm, blobs, logger)

	return &App{config: c, logger: logger, db: db, sessions: ss, profiles: ps}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.sessions)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	opts := httpapi.Options{
		Cookies: httpapi.CookieConfig{
			Domain:     app.config.CookieDomain,
			SameSite:   httpapi.ParseSameSite(app.config.CookieSameSite),
			Secure:     app.config.CookieSecure,
			AccessTTL:  app.config.AccessTokenTTL,
			RefreshTTL: app.config.RefreshTokenTTL,
		},
		CORSOrigins:        app.config.CORSOrigins,
		MaxUploadBytes:     app.config.MaxUploadBytes,
		RateLimitPerSecond: app.config.RateLimitPerSecond,
		RateLimitBurst:     app.config.RateLimitBurst,
	}

	h := httpapi.NewHandler(app.sessions, app.profiles, opts, app.logger)
	s := httpapi.NewServer(app.config.HTTPAddr, httpapi.NewRouter(h, opts, app.logger), app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

// Run serves HTTP and gRPC until a shutdown signal arrives, ctx is
// cancelled or either server fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
