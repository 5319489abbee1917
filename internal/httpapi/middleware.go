package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/mutation"
	"github.com/njoerd114/fuelrelay/internal/session"
)

// HeaderRequestID carries the request id on every response.
const HeaderRequestID = "X-Request-ID"

const (
	ctxRequestID = "request_id"
	ctxSession   = "session"
)

// requestID reuses a well-formed inbound X-Request-ID or assigns a new uuid.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Response().Header().Set(HeaderRequestID, id)
		return next(c)
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.Debug("http request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start),
			"request_id", c.Get(ctxRequestID),
		)
		return nil
	}
}

// authenticate requires a valid bearer token and stores the session.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := session.Parse(c.Request().Header.Get(echo.HeaderAuthorization), s.opts.Secret)
		if err != nil {
			return err
		}
		c.Set(ctxSession, sess)
		return next(c)
	}
}

func currentSession(c echo.Context) *session.Session {
	sess, _ := c.Get(ctxSession).(*session.Session)
	return sess
}

// actor resolves the caller's authority. The role comes from the stored
// profile, not the token; managed stations are looked up for managers only.
func (s *Server) actor(c echo.Context) (mutation.Actor, error) {
	sess := currentSession(c)
	if !sess.Authenticated() {
		return mutation.Actor{}, apperr.Auth("not signed in")
	}
	ctx := c.Request().Context()

	p, err := s.reader.Profile(ctx, sess.UserID)
	if p == nil {
		if err == nil {
			err = apperr.NotFound("profile " + sess.UserID)
		}
		return mutation.Actor{}, err
	}

	a := mutation.Actor{UserID: sess.UserID, Role: p.Role}
	if a.Role == "" {
		a.Role = model.RoleUser
	}
	if a.Role == model.RoleStationManager {
		ids, err := s.dir.ManagedStationIDs(ctx, sess.UserID)
		if err != nil {
			return mutation.Actor{}, fmt.Errorf("resolving managed stations: %w", err)
		}
		a.ManagedStations = ids
	}
	return a, nil
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		if apperr.IsForbidden(err) {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	body.RequestID, _ = c.Get(ctxRequestID).(string)

	var he *echo.HTTPError
	var ae *apperr.Error
	switch {
	case errors.As(err, &he):
		body.Error = fmt.Sprint(he.Message)
	case errors.As(err, &ae):
		body.Code = ae.Code
		if ae.Kind != apperr.KindTransient && ae.Message != "" {
			body.Error = ae.Message
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "path", c.Path(), "status", status, "error", err, "request_id", body.RequestID)
	}
	if werr := c.JSON(status, body); werr != nil {
		s.log.Error("writing error response", "error", werr)
	}
}
