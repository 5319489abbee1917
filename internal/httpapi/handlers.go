package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/njoerd114/fuelrelay/internal/access"
	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/model"
)

// HeaderWarning flags a response served from stale data after a failed
// refresh.
const HeaderWarning = "Warning"

const staleWarning = `110 - "Response is Stale"`

const (
	defaultAnalyticsDays = 7
	maxAnalyticsDays     = 90
)

// respond writes data, or err when there is no data. Data held alongside an
// error is stale and is served with a Warning header.
func (s *Server) respond(c echo.Context, data any, present bool, err error) error {
	if err != nil {
		if !present {
			return err
		}
		s.log.Warn("serving stale data", "path", c.Path(), "error", err)
		c.Response().Header().Set(HeaderWarning, staleWarning)
	}
	return c.JSON(http.StatusOK, data)
}

func (s *Server) health(c echo.Context) error {
	body := map[string]any{"status": "ok"}
	if s.opts.State != nil {
		body["realtime"] = s.opts.State()
	}
	if s.opts.CacheLen != nil {
		body["cache_entries"] = s.opts.CacheLen()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) listStations(c echo.Context) error {
	stations, err := s.reader.Stations(c.Request().Context())
	return s.respond(c, stations, stations != nil, err)
}

func (s *Server) getStation(c echo.Context) error {
	id := c.Param("id")
	st, err := s.reader.Station(c.Request().Context(), id)
	if st == nil && err == nil {
		return apperr.NotFound("station " + id)
	}
	return s.respond(c, st, st != nil, err)
}

func (s *Server) listNotifications(c echo.Context) error {
	ns, err := s.reader.Notifications(c.Request().Context(), c.Param("id"))
	return s.respond(c, ns, ns != nil, err)
}

func (s *Server) getProfile(c echo.Context) error {
	sess := currentSession(c)
	p, err := s.reader.Profile(c.Request().Context(), sess.UserID)
	if p == nil && err == nil {
		return apperr.NotFound("profile " + sess.UserID)
	}
	return s.respond(c, p, p != nil, err)
}

func (s *Server) updateProfile(c echo.Context) error {
	var upd model.ProfileUpdate
	if err := c.Bind(&upd); err != nil {
		return err
	}
	if err := s.writer.UpdateProfile(c.Request().Context(), currentSession(c).UserID, upd); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listSubscriptions(c echo.Context) error {
	subs, err := s.reader.Subscriptions(c.Request().Context(), currentSession(c).UserID)
	if subs == nil && err == nil {
		subs = []model.Subscription{}
	}
	return s.respond(c, subs, subs != nil, err)
}

func (s *Server) listManagedStations(c echo.Context) error {
	stations, err := s.reader.ManagedStations(c.Request().Context(), currentSession(c).UserID)
	if stations == nil && err == nil {
		stations = []model.Station{}
	}
	return s.respond(c, stations, stations != nil, err)
}

func (s *Server) subscribe(c echo.Context) error {
	var flags model.SubscriptionFlags
	if err := c.Bind(&flags); err != nil {
		return err
	}
	sub, err := s.writer.Subscribe(c.Request().Context(), currentSession(c).UserID, c.Param("id"), flags)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sub)
}

func (s *Server) unsubscribe(c echo.Context) error {
	if err := s.writer.Unsubscribe(c.Request().Context(), currentSession(c).UserID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type fuelUpdateResponse struct {
	StationID    string              `json:"station_id"`
	FuelType     model.FuelType      `json:"fuel_type"`
	Status       model.FuelStatus    `json:"status"`
	Notification *model.Notification `json:"notification,omitempty"`
}

func (s *Server) updateFuel(c echo.Context) error {
	fuel, err := model.ParseFuelType(c.Param("type"))
	if err != nil {
		return apperr.Validation(err.Error())
	}
	var st model.FuelStatus
	if err := c.Bind(&st); err != nil {
		return err
	}
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	n, err := s.writer.UpdateFuel(c.Request().Context(), a, c.Param("id"), fuel, st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fuelUpdateResponse{
		StationID:    c.Param("id"),
		FuelType:     fuel,
		Status:       st,
		Notification: n,
	})
}

type notificationRequest struct {
	Title            string `json:"title"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
	FuelType         string `json:"fuel_type"`
}

func (s *Server) sendNotification(c echo.Context) error {
	var req notificationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	n := &model.Notification{
		StationID:        c.Param("id"),
		Title:            req.Title,
		Message:          req.Message,
		NotificationType: model.NotificationType(req.NotificationType),
	}
	if req.FuelType != "" {
		ft, err := model.ParseFuelType(req.FuelType)
		if err != nil {
			return apperr.Validation(err.Error())
		}
		n.FuelType = &ft
	}

	a, err := s.actor(c)
	if err != nil {
		return err
	}
	if err := s.writer.SendNotification(c.Request().Context(), a, n); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

type analyticsResponse struct {
	StationID string                  `json:"station_id"`
	Since     time.Time               `json:"since"`
	Stats     model.NotificationStats `json:"stats"`
}

func (s *Server) stationAnalytics(c echo.Context) error {
	days := defaultAnalyticsDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAnalyticsDays {
			return apperr.Validation("days must be between 1 and " + strconv.Itoa(maxAnalyticsDays))
		}
		days = n
	}

	a, err := s.actor(c)
	if err != nil {
		return err
	}
	sid := c.Param("id")
	if !access.HasPermission(a.Role, access.ViewStationAnalytics) ||
		!access.CanManageStation(a.Role, a.ManagedStations, sid) {
		return apperr.Forbidden("not allowed to view analytics for this station")
	}

	since := s.opts.Now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := s.dir.NotificationStats(c.Request().Context(), sid, since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, analyticsResponse{StationID: sid, Since: since.UTC(), Stats: stats})
}

func (s *Server) assignManager(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	if err := s.writer.AssignStationManager(c.Request().Context(), a, c.Param("user"), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removeManager(c echo.Context) error {
	a, err := s.actor(c)
	if err != nil {
		return err
	}
	if err := s.writer.RemoveStationManager(c.Request().Context(), a, c.Param("user"), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (s *Server) registerPushToken(c echo.Context) error {
	var req pushTokenRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := s.writer.RegisterPushToken(c.Request().Context(), currentSession(c).UserID, req.Token, req.Platform); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
