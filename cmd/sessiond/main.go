package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/patrolbase/simple-sessions/pkg/audit"
	"github.com/patrolbase/simple-sessions/pkg/config"
	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/impersonate"
	impersonateapi "github.com/patrolbase/simple-sessions/pkg/impersonate/api"
	"github.com/patrolbase/simple-sessions/pkg/ratelimit"
	"github.com/patrolbase/simple-sessions/pkg/resolver"
	"github.com/patrolbase/simple-sessions/pkg/sessions"
	sessionsapi "github.com/patrolbase/simple-sessions/pkg/sessions/api"
	"github.com/patrolbase/simple-sessions/pkg/tokengenerator"
)

type Config struct {
	AppConfig           app.AppConfig
	DbConfig            config.DatabaseConfig
	SessionConfig       config.SessionConfig
	ImpersonationConfig config.ImpersonationConfig
	RateLimitConfig     config.RateLimitConfig

	// InMemory runs against in-memory stores, for local development
	InMemory bool `env:"SESSIONS_INMEM" env-default:"false"`
}

func main() {
	godotenv.Load()

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	var sessionRepo sessions.Repository
	var impersonationRepo impersonate.Repository
	var userRepo iam.Repository

	if cfg.InMemory {
		slog.Warn("Running with in-memory stores; sessions will not survive a restart")
		sessionRepo = sessions.NewInMemRepository()
		impersonationRepo = impersonate.NewInMemRepository()
		userRepo = iam.NewInMemRepository()
	} else {
		pool, err := dbutils.NewDbPool(context.Background(), cfg.DbConfig.ToDbConfig())
		if err != nil {
			slog.Error("Failed creating dbpool",
				"db", cfg.DbConfig.Database,
				"host", cfg.DbConfig.Host,
				"port", cfg.DbConfig.Port,
				"user", cfg.DbConfig.User)
			os.Exit(-1)
		}
		sessionRepo = sessions.NewPostgresRepository(pool)
		impersonationRepo = impersonate.NewPostgresRepository(pool)
		userRepo = iam.NewPostgresRepository(pool)
	}

	generator := tokengenerator.NewRandomTokenGenerator()
	sessionService := sessions.NewService(sessionRepo, userRepo, generator, cfg.SessionConfig)
	impersonationService := impersonate.NewService(impersonationRepo, sessionService, userRepo, generator, cfg.ImpersonationConfig)
	tokenResolver := resolver.NewResolver(impersonationRepo, sessionRepo, userRepo)

	sessionHandler := sessionsapi.NewHandler(sessionService)
	impersonationHandler := impersonateapi.NewHandler(impersonationService)

	limiter := newRateLimiter(cfg.RateLimitConfig)

	server.R.Route("/sessions", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		sessionHandler.RegisterRoutes(r)
	})
	server.R.Route("/impersonate", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		impersonationHandler.RegisterRoutes(r)
	})

	// Every other route group in the surrounding application authenticates
	// through the resolver middleware; /whoami is the canary.
	auditTrail := audit.NewMiddleware(slog.Default())
	server.R.Group(func(r chi.Router) {
		r.Use(tokenResolver.Middleware)
		r.Use(auditTrail.Handler)
		r.With(resolver.RequireAuth).Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
			resolution := resolver.GetResolution(req)
			render.JSON(w, req, map[string]interface{}{
				"user":          resolution.User,
				"impersonating": resolution.Impersonation != nil,
			})
		})
	})

	go runSweeper(context.Background(), sessionService, impersonationService, cfg.SessionConfig.CleanupInterval)

	server.Run()
}

// newRateLimiter builds the throttling middleware, or nil when disabled.
// Endpoint keys carry the mount prefix since the middleware sees full
// request paths.
func newRateLimiter(cfg config.RateLimitConfig) *ratelimit.Middleware {
	if !cfg.Enabled {
		return nil
	}
	perSecond := float64(cfg.PerIPPerMinute) / 60.0
	validatePerSecond := float64(cfg.ValidatePerMinute) / 60.0
	return ratelimit.NewMiddleware(&ratelimit.Config{
		PerIPEnabled:    true,
		PerIPCapacity:   cfg.PerIPPerMinute,
		PerIPRefillRate: perSecond,
		EndpointLimits: map[string]ratelimit.EndpointLimit{
			"GET /sessions/validate":  {Capacity: cfg.ValidatePerMinute, RefillRate: validatePerSecond},
			"POST /sessions/refresh":  {Capacity: cfg.ValidatePerMinute, RefillRate: validatePerSecond},
			"GET /impersonate/status": {Capacity: cfg.ValidatePerMinute, RefillRate: validatePerSecond},
		},
		BucketTTL: time.Hour,
	})
}

// runSweeper periodically deletes expired sessions and deactivates expired
// impersonation overlays
func runSweeper(ctx context.Context, sessionService *sessions.Service, impersonationService *impersonate.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessionService.CleanupExpiredSessions(ctx); err != nil {
				slog.Error("Session cleanup sweep failed", "error", err)
			}
			if _, err := impersonationService.DeactivateExpired(ctx); err != nil {
				slog.Error("Impersonation expiry sweep failed", "error", err)
			}
		}
	}
}
