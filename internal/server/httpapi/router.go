package httpapi

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
	"github.com/dmitrijs2005/bhopmaps/internal/server/metrics"
)

// formOverhead leaves room for the thumbnail and text fields of an upload
// on top of the map package itself.
const formOverhead = 16 << 20

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Users  UserService
	Maps   MapService
	Checks map[string]HealthCheck
	Config *config.Config
	Logger logging.Logger
}

// NewRouter builds the echo instance with every route registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Logger.With("module", "http"))

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(observeRequests)
	if d.Config.MaxUploadSize > 0 {
		e.Use(echomiddleware.BodyLimit(fmt.Sprintf("%dB", d.Config.MaxUploadSize+formOverhead)))
	}
	if d.Config.OriginURL != "" {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins:     []string{d.Config.OriginURL},
			AllowCredentials: true,
		}))
	}

	users := NewUserHandler(d.Users, d.Maps, d.Config.SessionTTL)
	maps := NewMapHandler(d.Maps, d.Config.MaxUploadSize)
	health := NewHealthHandler(d.Checks)

	api := e.Group("/api")
	api.POST("/register", users.Register)
	api.POST("/login", users.Login)
	api.POST("/logout", users.Logout)
	api.GET("/user", users.Current)
	api.GET("/user/:username", users.ByUsername)
	api.PUT("/user/edit", users.Edit)
	api.DELETE("/user/delete", users.Delete)

	api.POST("/map/new", maps.Upload)
	api.GET("/map/:id", maps.Get)
	api.GET("/map/:id/download", maps.Download)
	api.GET("/map/author/:authorId", maps.ByAuthor)
	api.POST("/map/:id/delete", maps.Delete)
	api.DELETE("/map/:id", maps.Delete)
	api.GET("/maps", maps.List)

	e.GET("/health", health.Liveness)
	e.GET("/health/ready", health.Readiness)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// observeRequests records request durations by route template. Errors are
// rendered here so the recorded status is the one the client sees.
func observeRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}

		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(c.Response().Status)).
			Observe(time.Since(start).Seconds())
		return nil
	}
}
