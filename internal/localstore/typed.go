package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/njoerd114/fuelrelay/internal/model"
)

// Keys of the typed documents.
const (
	KeyProfile        = "userProfile"
	KeyPaymentHistory = "paymentHistory"
	KeySettings       = "appSettings"
)

// MaxPaymentHistory is how many payments [PaymentHistory] keeps.
const MaxPaymentHistory = 50

func loadJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}

// Has reports whether key holds a value.
func Has(ctx context.Context, kv KV, key string) (bool, error) {
	_, ok, err := kv.Get(ctx, key)
	return ok, err
}

// ClearAll deletes every key in kv.
func ClearAll(ctx context.Context, kv KV) error {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := kv.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// ProfileStore keeps the last known user profile for offline reads.
type ProfileStore struct {
	KV KV
}

// Save replaces the stored profile.
func (s ProfileStore) Save(ctx context.Context, p *model.UserProfile) error {
	return saveJSON(ctx, s.KV, KeyProfile, p)
}

// Load returns the stored profile, or nil when none is stored.
func (s ProfileStore) Load(ctx context.Context) (*model.UserProfile, error) {
	var p model.UserProfile
	ok, err := loadJSON(ctx, s.KV, KeyProfile, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// Update merges the non-nil fields of upd into the stored profile, creating
// it when absent, and returns the result.
func (s ProfileStore) Update(ctx context.Context, upd model.ProfileUpdate) (*model.UserProfile, error) {
	p, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &model.UserProfile{}
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.PhoneNumber != nil {
		p.PhoneNumber = *upd.PhoneNumber
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Clear removes the stored profile.
func (s ProfileStore) Clear(ctx context.Context) error {
	return s.KV.Delete(ctx, KeyProfile)
}

// PaymentHistory keeps the most recent payments, newest first.
type PaymentHistory struct {
	KV KV
}

// Load returns the stored payments. It is empty, not nil, when none are
// stored.
func (h PaymentHistory) Load(ctx context.Context) ([]model.Payment, error) {
	var payments []model.Payment
	if _, err := loadJSON(ctx, h.KV, KeyPaymentHistory, &payments); err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []model.Payment{}
	}
	return payments, nil
}

// Add prepends p and trims the history to [MaxPaymentHistory] entries.
func (h PaymentHistory) Add(ctx context.Context, p model.Payment) ([]model.Payment, error) {
	current, err := h.Load(ctx)
	if err != nil {
		return nil, err
	}
	next := append([]model.Payment{p}, current...)
	if len(next) > MaxPaymentHistory {
		next = next[:MaxPaymentHistory]
	}
	if err := saveJSON(ctx, h.KV, KeyPaymentHistory, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Clear removes the history.
func (h PaymentHistory) Clear(ctx context.Context) error {
	return h.KV.Delete(ctx, KeyPaymentHistory)
}

// Settings keeps free-form app settings.
type Settings struct {
	KV KV
}

// Load returns the stored settings, or an empty map.
func (s Settings) Load(ctx context.Context) (map[string]any, error) {
	settings := map[string]any{}
	if _, err := loadJSON(ctx, s.KV, KeySettings, &settings); err != nil {
		return nil, err
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

// Update sets one setting and returns the full set.
func (s Settings) Update(ctx context.Context, key string, value any) (map[string]any, error) {
	settings, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	settings[key] = value
	if err := saveJSON(ctx, s.KV, KeySettings, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
