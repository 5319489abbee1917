package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/localstore"
	"github.com/njoerd114/fuelrelay/internal/model"
)

type paymentRequest struct {
	// QR is the scanned merchant payload.
	QR            string `json:"qr"`
	TransactionID string `json:"transaction_id"`
}

func (s *Server) listPayments(c echo.Context) error {
	ps, err := localstore.PaymentHistory{KV: s.opts.Local}.Load(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

// recordPayment verifies a scanned QR payload and prepends the completed
// payment to the history.
func (s *Server) recordPayment(c echo.Context) error {
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	pr, err := model.ParsePaymentQR(req.QR)
	if err != nil {
		return apperr.Validation(err.Error())
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return apperr.Validation("transaction_id is required")
	}

	ps, err := localstore.PaymentHistory{KV: s.opts.Local}.Add(c.Request().Context(), pr.Complete(req.TransactionID, s.opts.Now()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ps)
}

func (s *Server) clearPayments(c echo.Context) error {
	if err := (localstore.PaymentHistory{KV: s.opts.Local}).Clear(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getSettings(c echo.Context) error {
	settings, err := localstore.Settings{KV: s.opts.Local}.Load(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, settings)
}

type settingRequest struct {
	Value any `json:"value"`
}

func (s *Server) putSetting(c echo.Context) error {
	var req settingRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	settings, err := localstore.Settings{KV: s.opts.Local}.Update(c.Request().Context(), c.Param("key"), req.Value)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, settings)
}
