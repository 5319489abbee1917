package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PaymentStatus is the outcome of a QR-initiated payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one entry of the device-local payment history.
type Payment struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transactionId"`
	Merchant      string        `json:"merchant"`
	Amount        float64       `json:"amount"`
	Reference     string        `json:"reference,omitempty"`
	Status        PaymentStatus `json:"status"`
	PaidAt        time.Time     `json:"timestamp"`
}

// PaymentRequest is the payload encoded in a merchant QR code.
type PaymentRequest struct {
	ID        string  `json:"id"`
	Amount    float64 `json:"amount"`
	Merchant  string  `json:"merchant"`
	Reference string  `json:"reference,omitempty"`
	StationID string  `json:"stationId,omitempty"`
}

// ParsePaymentQR decodes scanned QR data. The payload must carry an id, a
// positive amount and a merchant name.
func ParsePaymentQR(data string) (*PaymentRequest, error) {
	var req PaymentRequest
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &req); err != nil {
		return nil, fmt.Errorf("invalid payment QR code: %w", err)
	}
	if req.ID == "" || req.Merchant == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("invalid payment QR code: id, amount and merchant are required")
	}
	return &req, nil
}

// Complete turns a verified request into a history entry.
func (r *PaymentRequest) Complete(transactionID string, at time.Time) Payment {
	return Payment{
		ID:            r.ID,
		TransactionID: transactionID,
		Merchant:      r.Merchant,
		Amount:        r.Amount,
		Reference:     r.Reference,
		Status:        PaymentCompleted,
		PaidAt:        at.UTC(),
	}
}
