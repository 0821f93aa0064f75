package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/bhopmaps/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Server runs the echo router until its context is cancelled.
type Server struct {
	address string
	echo    *echo.Echo
	logger  logging.Logger
}

func NewServer(address string, e *echo.Echo, logger logging.Logger) *Server {
	return &Server{address: address, echo: e, logger: logger}
}

// Run serves HTTP and shuts down gracefully once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(context.WithoutCancel(ctx), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
