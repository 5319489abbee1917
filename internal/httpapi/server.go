// Package httpapi serves the local HTTP API that UI consumers use to read
// cached resources and issue mutations.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/njoerd114/fuelrelay/internal/localstore"
	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/mutation"
)

const shutdownTimeout = 5 * time.Second

// Reader is the cached read side. Implemented by [sync.Client].
type Reader interface {
	Stations(ctx context.Context) ([]model.Station, error)
	Station(ctx context.Context, id string) (*model.Station, error)
	Notifications(ctx context.Context, stationID string) ([]model.Notification, error)
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
	Subscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	ManagedStations(ctx context.Context, userID string) ([]model.Station, error)
}

// Writer is the mutation side. Implemented by [mutation.Mutator].
type Writer interface {
	Subscribe(ctx context.Context, userID, stationID string, flags model.SubscriptionFlags) (*model.Subscription, error)
	Unsubscribe(ctx context.Context, userID, stationID string) error
	UpdateFuel(ctx context.Context, actor mutation.Actor, stationID string, fuel model.FuelType, st model.FuelStatus) (*model.Notification, error)
	SendNotification(ctx context.Context, actor mutation.Actor, n *model.Notification) error
	UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error
	AssignStationManager(ctx context.Context, actor mutation.Actor, userID, stationID string) error
	RemoveStationManager(ctx context.Context, actor mutation.Actor, userID, stationID string) error
	RegisterPushToken(ctx context.Context, userID, token, platform string) error
}

// Directory answers uncached lookups. Implemented by [remote.Store].
type Directory interface {
	ManagedStationIDs(ctx context.Context, userID string) ([]string, error)
	NotificationStats(ctx context.Context, stationID string, since time.Time) (model.NotificationStats, error)
}

// Options configures a Server.
type Options struct {
	// Secret verifies bearer tokens.
	Secret string
	// State reports the realtime bridge state for /health.
	State func() string
	// CacheLen reports the number of cache entries for /health.
	CacheLen func() int
	// Local, when set, serves the device-local payment history and settings.
	Local localstore.KV
	// Now overrides the clock; tests only.
	Now    func() time.Time
	Logger *slog.Logger
}

// Server is the local HTTP API.
type Server struct {
	reader Reader
	writer Writer
	dir    Directory
	opts   Options
	log    *slog.Logger
	echo   *echo.Echo
}

// New creates a Server and registers its routes.
func New(reader Reader, writer Writer, dir Directory, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{reader: reader, writer: writer, dir: dir, opts: opts, log: logger, echo: e}
	e.HTTPErrorHandler = s.handleError
	e.Use(requestID, s.requestLog)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)

	g := s.echo.Group("", s.authenticate)
	g.GET("/stations", s.listStations)
	g.GET("/stations/:id", s.getStation)
	g.GET("/stations/:id/notifications", s.listNotifications)
	g.POST("/stations/:id/notifications", s.sendNotification)
	g.GET("/stations/:id/analytics", s.stationAnalytics)
	g.POST("/stations/:id/subscriptions", s.subscribe)
	g.DELETE("/stations/:id/subscriptions", s.unsubscribe)
	g.PUT("/stations/:id/fuel/:type", s.updateFuel)
	g.PUT("/stations/:id/managers/:user", s.assignManager)
	g.DELETE("/stations/:id/managers/:user", s.removeManager)

	g.GET("/me/profile", s.getProfile)
	g.PATCH("/me/profile", s.updateProfile)
	g.GET("/me/subscriptions", s.listSubscriptions)
	g.GET("/me/stations", s.listManagedStations)
	g.POST("/me/push-tokens", s.registerPushToken)

	if s.opts.Local != nil {
		g.GET("/local/payments", s.listPayments)
		g.POST("/local/payments", s.recordPayment)
		g.DELETE("/local/payments", s.clearPayments)
		g.GET("/local/settings", s.getSettings)
		g.PUT("/local/settings/:key", s.putSetting)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", addr)
		errc <- s.echo.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("http api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http api shutdown", "error", err)
	}
	return ctx.Err()
}
