package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/njoerd114/fuelrelay/internal/apperr"
)

func TestChunk(t *testing.T) {
	tokens := make([]string, 250)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("t%d", i)
	}

	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 100, nil},
		{3, 100, []int{3}},
		{100, 100, []int{100}},
		{101, 100, []int{100, 1}},
		{250, 100, []int{100, 100, 50}},
		{5, 0, []int{5}},
	}
	for _, tt := range tests {
		got := Chunk(tokens[:tt.n], tt.size)
		if len(got) != len(tt.want) {
			t.Errorf("Chunk(%d, %d) = %d chunks, want %d", tt.n, tt.size, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if len(got[i]) != tt.want[i] {
				t.Errorf("Chunk(%d, %d)[%d] has %d tokens, want %d", tt.n, tt.size, i, len(got[i]), tt.want[i])
			}
		}
	}
}

func TestSend_PostsMessages(t *testing.T) {
	var (
		got    []Message
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		tickets := make([]Ticket, len(got))
		for i := range tickets {
			tickets[i] = Ticket{Status: "ok", ID: fmt.Sprintf("r%d", i)}
		}
		tickets[len(tickets)-1] = Ticket{Status: "error", Message: "not registered",
			Details: map[string]any{"error": "DeviceNotRegistered"}}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	defer srv.Close()

	c := &ExpoClient{Endpoint: srv.URL, AccessToken: "secret"}
	msgs := []Message{
		{To: "ExponentPushToken[a]", Title: "Fuel Restocked! ⛽", Body: "Diesel is now available at this station.",
			Sound: "default", ChannelID: "fuel-updates", Data: map[string]any{"stationId": "S1"}},
		{To: "ExponentPushToken[b]", Title: "t", Body: "b"},
	}

	tickets, err := c.Send(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tickets) != 2 || !tickets[0].OK() || tickets[1].OK() {
		t.Errorf("tickets = %+v", tickets)
	}
	if len(got) != 2 || got[0].ChannelID != "fuel-updates" || got[0].Data["stationId"] != "S1" {
		t.Errorf("posted = %+v", got)
	}
	if header.Get("Authorization") != "Bearer secret" || header.Get("Content-Type") != "application/json" {
		t.Errorf("headers = %v", header)
	}
}

func TestSend_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusUnauthorized, apperr.KindAuth},
		{http.StatusForbidden, apperr.KindAuth},
		{http.StatusTooManyRequests, apperr.KindTransient},
		{http.StatusBadGateway, apperr.KindTransient},
		{http.StatusBadRequest, apperr.KindValidation},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		c := &ExpoClient{Endpoint: srv.URL}
		_, err := c.Send(context.Background(), []Message{{To: "x", Title: "t", Body: "b"}})
		if !apperr.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %s", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestSend_RejectsOversizedBatch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	defer srv.Close()

	msgs := make([]Message, MaxBatch+1)
	_, err := (&ExpoClient{Endpoint: srv.URL}).Send(context.Background(), msgs)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
	if calls != 0 {
		t.Errorf("server called %d times", calls)
	}
}

func TestSend_TicketCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := (&ExpoClient{Endpoint: srv.URL}).Send(context.Background(), []Message{{To: "x"}})
	if !apperr.Is(err, apperr.KindTransient) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestSend_Empty(t *testing.T) {
	tickets, err := (&ExpoClient{Endpoint: "http://127.0.0.1:0"}).Send(context.Background(), nil)
	if err != nil || tickets != nil {
		t.Errorf("Send(nil) = %v, %v", tickets, err)
	}
}
