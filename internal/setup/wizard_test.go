package setup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/njoerd114/fuelrelay/internal/config"
)

type fakeBackend struct {
	pingErr    error
	triggerErr error
	triggers   int
	closed     bool
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

func (f *fakeBackend) InstallNotifyTrigger(context.Context) error {
	f.triggers++
	return f.triggerErr
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func newTestWizard(t *testing.T, input string, backend *fakeBackend) (*Wizard, string, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	wiz := NewWizard(strings.NewReader(input), out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	wiz.cfgPath = filepath.Join(t.TempDir(), "fuelrelay", "config.yaml")
	wiz.connect = func(string) (Backend, error) { return backend, nil }
	return wiz, wiz.cfgPath, out
}

func TestWizard_PostgresSQLite(t *testing.T) {
	for _, k := range []string{config.EnvDatabaseURL, config.EnvJWTSecret} {
		t.Setenv(k, "")
	}
	backend := &fakeBackend{}
	// dsn, generate secret, postgres, install trigger, sqlite, path, listen.
	input := strings.Join([]string{
		"postgres://app:pw@db.example.com:5432/postgres",
		"",
		"1",
		"y",
		"1",
		"/tmp/fuelrelay/state.db",
		"",
	}, "\n") + "\n"
	wiz, path, _ := newTestWizard(t, input, backend)

	if err := wiz.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if backend.triggers != 1 || !backend.closed {
		t.Errorf("backend = %+v", backend)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.Realtime.Transport != config.TransportPostgres {
		t.Errorf("Transport = %q", cfg.Realtime.Transport)
	}
	if cfg.LocalStore.Path != "/tmp/fuelrelay/state.db" {
		t.Errorf("LocalStore.Path = %q", cfg.LocalStore.Path)
	}
	if len(cfg.JWTSecret) != 64 {
		t.Errorf("generated secret length = %d, want 64", len(cfg.JWTSecret))
	}
	if cfg.HTTP.Listen != config.DefaultListen {
		t.Errorf("Listen = %q", cfg.HTTP.Listen)
	}
}

func TestWizard_AMQPRedis(t *testing.T) {
	for _, k := range []string{config.EnvDatabaseURL, config.EnvJWTSecret, config.EnvAMQPURL} {
		t.Setenv(k, "")
	}
	backend := &fakeBackend{}
	// dsn, own secret, amqp, url, default queue, redis, addr, listen.
	input := strings.Join([]string{
		"postgres://db/app",
		"n",
		"a-very-long-jwt-secret",
		"2",
		"amqp://mq:5672/",
		"",
		"2",
		"redis:6379",
		"127.0.0.1:9000",
	}, "\n") + "\n"
	wiz, path, _ := newTestWizard(t, input, backend)

	if err := wiz.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if backend.triggers != 0 {
		t.Error("trigger must not be installed for amqp")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.JWTSecret != "a-very-long-jwt-secret" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.Realtime.Transport != config.TransportAMQP || cfg.Realtime.AMQPURL != "amqp://mq:5672/" || cfg.Realtime.Queue != "notifications.inserted" {
		t.Errorf("Realtime = %+v", cfg.Realtime)
	}
	if cfg.LocalStore.Backend != config.BackendRedis || cfg.LocalStore.RedisAddr != "redis:6379" {
		t.Errorf("LocalStore = %+v", cfg.LocalStore)
	}
}

func TestWizard_UnreachableDatabase(t *testing.T) {
	wiz, path, out := newTestWizard(t, "postgres://db/app\n", &fakeBackend{pingErr: errors.New("connection refused")})

	if err := wiz.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), "✗") {
		t.Errorf("output = %q", out.String())
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("config must not be written")
	}
}

func TestWizard_KeepExisting(t *testing.T) {
	backend := &fakeBackend{}
	wiz, path, _ := newTestWizard(t, "n\n", backend)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("original"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := wiz.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("config overwritten: %q", data)
	}
}

func TestPrompter_Select(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompter(strings.NewReader("9\nx\n2\n"), out)
	idx, err := p.Select("Pick", []string{"a", "b"})
	if err != nil || idx != 1 {
		t.Errorf("Select = %d, %v; want 1", idx, err)
	}
	if strings.Count(out.String(), "enter a number") != 2 {
		t.Errorf("expected two retries, output = %q", out.String())
	}
}
