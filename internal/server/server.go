// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqlite.DB                        (primary store, migrated on open)
//	  → payment.Client                   (provider REST API)
//	  → sanity.Client → mirror.Engine    (optional document mirror)
//	  → catalog.Resolver, catalog.Adjuster
//	  → OrderService, CheckoutService, AddressService, AccountService
//	  → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/catalog"
	"github.com/sakif/storefront/internal/config"
	"github.com/sakif/storefront/internal/handler"
	"github.com/sakif/storefront/internal/middleware"
	"github.com/sakif/storefront/internal/mirror"
	"github.com/sakif/storefront/internal/mirror/sanity"
	"github.com/sakif/storefront/internal/payment"
	sqliteRepo "github.com/sakif/storefront/internal/repository/sqlite"
	"github.com/sakif/storefront/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it after the HTTP
// server has drained, so in-flight order writes finish first.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	// engine is nil when the mirror is disabled.
	engine *mirror.Engine
}

// New opens the database, builds every service and mounts the routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if cfg.MirrorEnabled() {
		store, err := NewDocumentStore(cfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating document store: %w", err)
		}
		s.engine = mirror.NewEngine(db, store, cfg.SyncConcurrency, logger)
	} else {
		logger.Warn("SANITY_PROJECT_ID not set; order mirror is disabled")
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// NewDocumentStore returns the mirror's document store for cfg.
func NewDocumentStore(cfg *config.Config) (*sanity.Client, error) {
	return sanity.New(sanity.Config{
		ProjectID:  cfg.Sanity.ProjectID,
		Dataset:    cfg.Sanity.Dataset,
		Token:      cfg.Sanity.Token,
		APIVersion: cfg.Sanity.APIVersion,
		BaseURL:    cfg.Sanity.APIURL,
	})
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                             → liveness probe
//	POST   /api/webhooks/stripe                 → payment webhook (signature checked)
//	POST   /api/create-payment-intent           → checkout (token optional)
//	GET    /api/me                              → signed-in user        [token]
//	GET    /api/orders                          → own orders            [token]
//	GET    /api/orders/{id}                     → one own order         [token]
//	*      /api/user/addresses[...]             → address book          [token]
//	GET    /api/sync/orders, POST               → mirror one/all        [api key]
//	GET    /api/sync/state                      → last full sync        [api key]
//	GET    /api/sync/products                   → disabled catalog sync [api key]
//	POST   /api/admin/sync-orders               → mirror all            [api key]
//	PUT    /api/admin/orders/{id}/status        → set order status      [api key]
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so the access log can print it; Recoverer sits
// inside Logger so a panic is logged as a 500.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// === Services ===
	// A nil *mirror.Engine stored in an interface is not a nil interface, so
	// the optional mirror is only assigned when it exists.
	var (
		mirrorSvc handler.Mirror
		syncer    service.OrderSyncer
	)
	if s.engine != nil {
		mirrorSvc = s.engine
		syncer = s.engine
	}

	provider := payment.NewClient(s.config.Stripe.SecretKey, s.config.Stripe.APIURL)
	resolver := catalog.NewResolver(s.logger)
	adjuster := catalog.NewAdjuster(s.logger)

	orderSvc := service.NewOrderService(s.db, resolver, adjuster, syncer, s.logger)
	accountSvc := service.NewAccountService(s.db, s.logger)
	addressSvc := service.NewAddressService(s.db, s.logger)

	normalizer := payment.NewNormalizer(provider, s.config.Stripe.WebhookSecret, s.config.Stripe.WebhookTolerance, s.logger)
	if s.config.Stripe.WebhookSecret == "" {
		s.logger.Warn("STRIPE_WEBHOOK_SECRET not set; every webhook delivery will be rejected")
	}

	webhookHandler := handler.NewWebhookHandler(normalizer, orderSvc, s.logger)
	orderHandler := handler.NewOrderHandler(orderSvc, accountSvc, s.logger)
	addressHandler := handler.NewAddressHandler(addressSvc, s.logger)
	syncHandler := handler.NewSyncHandler(mirrorSvc, s.logger)

	// === Auth ===
	var tokens *auth.TokenService
	if s.config.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret, s.config.JWTIssuer)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	} else {
		s.logger.Warn("JWT_SECRET not set; shopper routes are disabled")
	}

	if s.config.SyncAPIKeyHash == "" {
		s.logger.Warn("SYNC_API_KEY_HASH not set; operator routes are unauthenticated")
	}
	requireKey := auth.RequireAPIKey(auth.NewKeyHasher(), s.config.SyncAPIKeyHash)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookHandler.HandlePaymentWebhook)

		if s.config.Stripe.SecretKey != "" {
			checkoutSvc := service.NewCheckoutService(provider, s.config.Stripe.Currency, s.logger)
			checkoutHandler := handler.NewCheckoutHandler(checkoutSvc, s.logger)
			r.Group(func(r chi.Router) {
				if tokens != nil {
					r.Use(auth.OptionalAuth(tokens))
				}
				r.Post("/create-payment-intent", checkoutHandler.HandleCreatePaymentIntent)
			})
		} else {
			s.logger.Warn("STRIPE_SECRET_KEY not set; checkout is disabled")
		}

		if tokens != nil {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(tokens))

				r.Get("/me", orderHandler.HandleMe)
				r.Get("/orders", orderHandler.HandleList)
				r.Get("/orders/{id}", orderHandler.HandleGet)

				r.Route("/user/addresses", func(r chi.Router) {
					r.Get("/", addressHandler.HandleList)
					r.Post("/", addressHandler.HandleCreate)
					r.Get("/{id}", addressHandler.HandleGet)
					r.Put("/{id}", addressHandler.HandleUpdate)
					r.Delete("/{id}", addressHandler.HandleDelete)
					r.Put("/{id}/default", addressHandler.HandleSetDefault)
				})
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(requireKey)

			r.Get("/sync/orders", syncHandler.HandleSyncOrders)
			r.Post("/sync/orders", syncHandler.HandleSyncOrders)
			r.Get("/sync/state", syncHandler.HandleSyncState)
			r.Get("/sync/products", syncHandler.HandleSyncProducts)
			r.Post("/admin/sync-orders", syncHandler.HandleAdminSyncOrders)
			r.Put("/admin/orders/{id}/status", orderHandler.HandleUpdateStatus)
		})
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		// Full mirror runs from the admin route can take a while.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("mirror", s.engine != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
