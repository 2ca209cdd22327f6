package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/config"
	"studiobook/internal/domain"
	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	headerRetryAfter     = "Retry-After"

	principalContextKey = "principal"
)

// HTTPServer exposes the booking engine as a JSON API.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	zone    *clock.Zone
	echo    *echo.Echo
	auth    *Authenticator
	limiter *clientLimiter
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, zone *clock.Zone, logger *zerolog.Logger) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "http").Logger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = ErrorHandler(&log)
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.WriteTimeout = 15 * time.Second

	s := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		zone:    zone,
		echo:    e,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newClientLimiter(cfg.RateLimit),
		log:     log,
	}

	e.Use(s.observe)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Recover())

	e.GET("/health", s.health)
	s.routes(e.Group("/api/v1", s.authenticate))
	return s
}

func (s *HTTPServer) routes(g *echo.Group) {
	admin := s.requireAdmin
	write := s.requirePermission(permWriteBookings)
	read := s.requirePermission(permRead)

	g.GET("/lessons", s.listLessons, read)
	g.GET("/lessons/:id", s.getLesson, read)
	g.GET("/lessons/:id/for-booking", s.getLessonForBooking, read)
	g.GET("/lessons/:id/status", s.getLessonStatus, read)
	g.GET("/lessons/:id/capacity", s.getRemainingCapacity, read)
	g.GET("/lessons/:id/bookings", s.getUserBookings, read)
	g.GET("/lessons/:id/roster", s.getRoster, admin)
	g.GET("/lessons/:id/roster.xlsx", s.exportRoster, admin)
	g.DELETE("/lessons/:id", s.deleteLesson, admin)

	g.POST("/lessons/:id/bookings", s.createBookings, write)
	g.POST("/lessons/:id/waitlist", s.joinWaitlist, write)
	g.DELETE("/lessons/:id/waitlist", s.leaveWaitlist, write)
	g.POST("/lessons/:id/check-in", s.checkIn, write)
	g.POST("/lessons/:id/children", s.bookChildren, write)
	g.DELETE("/bookings/:id", s.cancelBooking, write)

	g.GET("/class-options", s.listClassOptions, read)
	g.GET("/class-options/:id", s.getClassOption, read)
	g.POST("/class-options", s.createClassOption, admin)
	g.PUT("/class-options/:id", s.updateClassOption, admin)
	g.DELETE("/class-options/:id", s.deleteClassOption, admin)

	g.GET("/schedules", s.listSchedules, admin)
	g.GET("/schedules/:tenant", s.getSchedule, admin)
	g.PUT("/schedules", s.saveSchedule, admin)
	g.POST("/schedules/generate", s.generateLessons, admin)
	g.POST("/schedules/publish", s.publishSchedule, admin)
}

// Handler is the root handler, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTP.Port)
	s.log.Info().Str("addr", addr).Msg("HTTP API listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe renders errors itself so the logged status and metrics match the response.
func (s *HTTPServer) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}

		res := c.Response()
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		metrics.IncRequest("http", path, strconv.Itoa(res.Status))

		s.log.Info().
			Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", res.Status).
			Str("remote", c.RealIP()).
			Dur("duration", time.Since(start)).
			Msg("http request")
		return nil
	}
}

func (s *HTTPServer) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := s.principalFor(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		if ok, wait := s.limiter.admit(p.Client); !ok {
			c.Response().Header().Set(headerRetryAfter, retryAfterSeconds(wait))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		c.Set(principalContextKey, p)
		c.SetRequest(c.Request().WithContext(withPrincipal(c.Request().Context(), p)))
		return next(c)
	}
}

// principalFor trusts the X-User-ID and X-User-Role headers when auth is disabled.
func (s *HTTPServer) principalFor(c echo.Context) (Principal, error) {
	req := c.Request()
	if s.cfg.Auth.Enabled {
		return s.auth.Authenticate(req.Header.Get(echo.HeaderAuthorization), req.Header.Get(s.auth.apiKeyHeader()))
	}

	raw := strings.TrimSpace(req.Header.Get(headerUserID))
	if raw == "" {
		return Principal{Actor: domain.Actor{Role: models.RoleAdmin}, Client: c.RealIP()}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: invalid %s header", errUnauthenticated, headerUserID)
	}
	role := models.RoleUser
	if strings.EqualFold(strings.TrimSpace(req.Header.Get(headerUserRole)), models.RoleAdmin) {
		role = models.RoleAdmin
	}
	return Principal{Actor: domain.Actor{UserID: id, Role: role}, Client: fmt.Sprintf("user:%d", id)}, nil
}

func (s *HTTPServer) requirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !principalOf(c).Allows(perm) {
				return domain.NewError(domain.KindForbidden, "missing permission %s", perm)
			}
			return next(c)
		}
	}
}

func (s *HTTPServer) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := principalOf(c)
		if !p.Actor.IsAdmin() || !p.Allows(permAdmin) {
			return domain.NewError(domain.KindForbidden, "admin access required")
		}
		return next(c)
	}
}

func principalOf(c echo.Context) Principal {
	p, _ := c.Get(principalContextKey).(Principal)
	return p
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryID(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (s *HTTPServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
