// fuelrelay is the station-data synchronization daemon of a fuel station
// finder. It caches station data from the hosted Postgres backend, serves it
// to UI consumers over a local HTTP API, and fans out push notifications when
// station notifications are inserted.
//
// Usage:
//
//	fuelrelay setup                          # interactive first-run wizard
//	fuelrelay daemon [--config <path>]       # realtime bridge + retention + HTTP API
//	fuelrelay stations [--config <path>]     # list stations and fuel availability
//	fuelrelay station <id> [--config <path>] # one station with its latest notifications
//	fuelrelay prune [--config <path>]        # single retention pass then exit
//	fuelrelay token --user <id> [--ttl 24h]  # mint a local session token
//	fuelrelay status                         # show config and store state
//	fuelrelay version                        # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/fuelrelay/internal/cache"
	"github.com/njoerd114/fuelrelay/internal/config"
	"github.com/njoerd114/fuelrelay/internal/httpapi"
	"github.com/njoerd114/fuelrelay/internal/localstore"
	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/mutation"
	"github.com/njoerd114/fuelrelay/internal/push"
	"github.com/njoerd114/fuelrelay/internal/query"
	"github.com/njoerd114/fuelrelay/internal/realtime"
	"github.com/njoerd114/fuelrelay/internal/remote"
	"github.com/njoerd114/fuelrelay/internal/retry"
	"github.com/njoerd114/fuelrelay/internal/session"
	"github.com/njoerd114/fuelrelay/internal/setup"
	syncp "github.com/njoerd114/fuelrelay/internal/sync"
	"github.com/njoerd114/fuelrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "setup":
		return runSetup()
	case "daemon":
		return runDaemon(args)
	case "stations":
		return runStations(args)
	case "station":
		return runStation(args)
	case "prune":
		return runPrune(args)
	case "token":
		return runToken(args)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("fuelrelay", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'fuelrelay' for usage", cmd)
	}
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "fuelrelay: station data sync and push relay")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fuelrelay setup                     Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  fuelrelay daemon [--config ...]     Run the realtime bridge and HTTP API")
	fmt.Fprintln(os.Stderr, "  fuelrelay stations [--config ...]   List stations")
	fmt.Fprintln(os.Stderr, "  fuelrelay station <id>              Show one station")
	fmt.Fprintln(os.Stderr, "  fuelrelay prune [--config ...]      Delete old notifications then exit")
	fmt.Fprintln(os.Stderr, "  fuelrelay token --user <id>         Mint a local session token")
	fmt.Fprintln(os.Stderr, "  fuelrelay status                    Show config and store state")
	fmt.Fprintln(os.Stderr, "  fuelrelay version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Run 'fuelrelay setup' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Shared plumbing ---------------------------------------------------------

type commonFlags struct {
	cfgPath string
	verbose bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cf := &commonFlags{}
	fs.StringVar(&cf.cfgPath, "config", defaultCfg, "path to config.yaml")
	fs.BoolVar(&cf.verbose, "verbose", false, "enable debug logging")
	return fs, cf
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// startTelemetry enables OTLP export when configured. The returned function
// flushes it and is always safe to call.
func startTelemetry(cfg *config.Config, logger *slog.Logger) func() {
	if cfg.Telemetry == nil {
		return func() {}
	}
	telCfg := telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Headers:        cfg.Telemetry.Headers,
	}
	shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
	if err != nil {
		logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		return func() {}
	}
	logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTel(flushCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*remote.Store, error) {
	store, err := remote.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to the database: %w\n\nCheck database_url in your config file", err)
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("pinging the database: %w", err)
	}
	return store, nil
}

func openLocalStore(ctx context.Context, cfg config.LocalStoreConfig, logger *slog.Logger) (localstore.KV, error) {
	if cfg.Backend == config.BackendRedis {
		r := localstore.NewRedis(localstore.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("connecting to redis at %q: %w", cfg.RedisAddr, err)
		}
		logger.Info("local store opened", "backend", cfg.Backend, "addr", cfg.RedisAddr)
		return r, nil
	}

	path := cfg.Path
	if path == "" {
		p, err := localstore.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving local store path: %w", err)
		}
		path = p
	}
	kv, err := localstore.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening local store at %q: %w", path, err)
	}
	logger.Info("local store opened", "backend", config.BackendSQLite, "path", path)
	return kv, nil
}

func newCache(cfg *config.Config, logger *slog.Logger) *cache.Cache {
	return cache.New(cache.Options{
		StaleTime:  cfg.Cache.StaleTime,
		ExpireTime: cfg.Cache.ExpireTime,
		Retry: retry.Policy{
			MaxAttempts: cfg.Cache.Retry.MaxAttempts,
			BaseDelay:   cfg.Cache.Retry.BaseDelay,
			MaxDelay:    cfg.Cache.Retry.MaxDelay,
		},
		Logger: logger,
	})
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)
	return wiz.Run(ctx)
}

// runDaemon runs the realtime bridge, the maintenance jobs and the HTTP API
// until SIGINT or SIGTERM.
func runDaemon(args []string) error {
	fs, cf := newFlagSet("daemon")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(cf.verbose)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cf.cfgPath, err)
	}
	logger.Info("config loaded",
		"transport", cfg.Realtime.Transport,
		"local_store", cfg.LocalStore.Backend,
		"listen", cfg.HTTP.Listen,
	)

	defer startTelemetry(cfg, logger)()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Stores --------------------------------------------------------------

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()
	logger.Info("database reachable")

	kv, err := openLocalStore(ctx, cfg.LocalStore, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			logger.Error("closing local store", "error", closeErr)
		}
	}()

	// --- Cache, reads and mutations ------------------------------------------

	qc := newCache(cfg, logger)
	client := &syncp.Client{
		Cache:    qc,
		Fetchers: query.Fetchers{Source: store},
		Profiles: &localstore.ProfileStore{KV: kv},
		Logger:   logger,
	}
	mut := &mutation.Mutator{
		Writer:         store,
		Cache:          qc,
		Logger:         logger,
		Optimistic:     true,
		NotifyOnChange: true,
	}

	// --- Realtime bridge -----------------------------------------------------

	var feed realtime.Feed
	switch cfg.Realtime.Transport {
	case config.TransportAMQP:
		feed = &realtime.AMQPFeed{URL: cfg.Realtime.AMQPURL, Queue: cfg.Realtime.Queue}
		pub, err := realtime.NewAMQPPublisher(cfg.Realtime.AMQPURL, cfg.Realtime.Queue)
		if err != nil {
			logger.Warn("notifications sent from this daemon will not reach the queue", "error", err)
		} else {
			mut.Announcer = pub
			defer pub.Close()
		}
	default:
		feed = &realtime.PGFeed{DSN: cfg.DatabaseURL}
	}

	sender := &push.ExpoClient{Endpoint: cfg.Push.Endpoint, AccessToken: cfg.Push.AccessToken}
	bridge := realtime.NewBridge(feed, store, sender, realtime.Options{
		BatchSize: cfg.Realtime.BatchSize,
		QueueSize: cfg.Realtime.QueueSize,
		Logger:    logger,
	})

	engine := syncp.NewEngine(bridge, store, qc, syncp.EngineOptions{
		NotificationMaxAge: cfg.Retention.NotificationMaxAge,
		RetentionInterval:  cfg.Retention.Interval,
	}, logger)

	api := httpapi.New(client, mut, store, httpapi.Options{
		Secret:   cfg.JWTSecret,
		State:    func() string { return bridge.State().String() },
		CacheLen: qc.Len,
		Local:    kv,
		Logger:   logger,
	})

	// --- Run -----------------------------------------------------------------

	logger.Info("daemon starting", "version", version)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return api.Run(gctx, cfg.HTTP.Listen) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// withClient loads the config and builds a read client for one-shot commands.
func withClient(name string, args []string, fn func(ctx context.Context, c *syncp.Client) error) error {
	fs, cf := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(cf.verbose)

	cfg, err := config.Load(cf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cf.cfgPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	client := &syncp.Client{Cache: newCache(cfg, logger), Fetchers: query.Fetchers{Source: store}, Logger: logger}
	return fn(ctx, client)
}

// runStations prints every station with its fuel availability.
func runStations(args []string) error {
	return withClient("stations", args, func(ctx context.Context, c *syncp.Client) error {
		stations, err := c.Stations(ctx)
		if err != nil {
			return fmt.Errorf("listing stations: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPETROL\tDIESEL\tGAS\tKEROSENE")
		for i := range stations {
			st := &stations[i]
			cols := make([]string, 0, len(model.FuelTypes))
			for _, t := range model.FuelTypes {
				cols = append(cols, fuelCell(st.Fuel(t)))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", st.ID, st.Name, strings.Join(cols, "\t"))
		}
		return tw.Flush()
	})
}

// runStation prints one station and its latest notifications.
func runStation(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: fuelrelay station <id> [--config <path>]")
	}
	id := args[0]

	return withClient("station", args[1:], func(ctx context.Context, c *syncp.Client) error {
		st, err := c.Station(ctx, id)
		if err != nil {
			return fmt.Errorf("reading station %s: %w", id, err)
		}

		fmt.Printf("%s (%s)\n", st.Name, st.ID)
		if st.Address != "" {
			fmt.Printf("  %s\n", st.Address)
		}
		for _, t := range model.FuelTypes {
			fmt.Printf("  %-9s %s\n", t.Label()+":", fuelCell(st.Fuel(t)))
		}

		ns, err := c.Notifications(ctx, id)
		if err != nil {
			return fmt.Errorf("reading notifications: %w", err)
		}
		if len(ns) == 0 {
			return nil
		}
		fmt.Println("\nLatest notifications:")
		for _, n := range ns {
			fmt.Printf("  %s  %s: %s\n", n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title, n.Message)
		}
		return nil
	})
}

func fuelCell(st model.FuelStatus) string {
	if !st.Available {
		return "out"
	}
	return fmt.Sprintf("%.2f", st.Price)
}

// runPrune performs a single retention pass.
func runPrune(args []string) error {
	fs, cf := newFlagSet("prune")
	maxAge := fs.Duration("max-age", 0, "override retention.notification_max_age")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(cf.verbose)

	cfg, err := config.Load(cf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cf.cfgPath, err)
	}
	if *maxAge > 0 {
		cfg.Retention.NotificationMaxAge = *maxAge
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := syncp.NewEngine(nil, store, nil, syncp.EngineOptions{
		NotificationMaxAge: cfg.Retention.NotificationMaxAge,
	}, logger)
	stats, err := engine.RunOnce(ctx)
	logger.Info("retention complete", "pruned", stats.Pruned, "max_age", cfg.Retention.NotificationMaxAge)
	return err
}

// runToken mints a session token for the local HTTP API.
func runToken(args []string) error {
	fs, cf := newFlagSet("token")
	user := fs.String("user", "", "user id (token subject)")
	role := fs.String("role", "", "role claim (informational)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	var r model.Role
	if *role != "" {
		parsed, err := model.ParseRole(*role)
		if err != nil {
			return err
		}
		r = parsed
	}

	cfg, err := config.Load(cf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cf.cfgPath, err)
	}
	tok, err := session.Issue(cfg.JWTSecret, *user, r, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// runStatus prints the current configuration and store state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("fuelrelay status")
	fmt.Println("────────────────")

	cfg, loadErr := config.Load(cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Printf("  Config:      not found (%s)\n", cfgPath)
		return nil
	}
	if loadErr != nil {
		fmt.Printf("  Config:      %s (invalid: %v)\n", cfgPath, loadErr)
		return nil
	}
	fmt.Printf("  Config:      %s ✓\n", cfgPath)
	fmt.Printf("  Transport:   %s\n", cfg.Realtime.Transport)
	fmt.Printf("  HTTP API:    %s\n", cfg.HTTP.Listen)
	fmt.Printf("  Retention:   %s (every %s)\n", cfg.Retention.NotificationMaxAge, cfg.Retention.Interval)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if store, err := openStore(ctx, cfg, quiet); err != nil {
		fmt.Printf("  Database:    unreachable (%v)\n", err)
	} else {
		fmt.Printf("  Database:    reachable ✓\n")
		_ = store.Close()
	}

	if cfg.LocalStore.Backend == config.BackendSQLite {
		path := cfg.LocalStore.Path
		if path == "" {
			path, _ = localstore.DefaultDBPath()
		}
		if info, err := os.Stat(path); err == nil {
			fmt.Printf("  Local store: %s (%s)\n", path, humanSize(info.Size()))
		} else {
			fmt.Printf("  Local store: not created yet\n")
			return nil
		}
	}

	kv, err := openLocalStore(ctx, cfg.LocalStore, quiet)
	if err != nil {
		fmt.Printf("  Local store: unavailable (%v)\n", err)
		return nil
	}
	defer kv.Close()

	if p, err := (localstore.ProfileStore{KV: kv}).Load(ctx); err == nil && p != nil {
		fmt.Printf("  Profile:     %s <%s> (%s)\n", p.FullName, p.Email, p.Role)
	} else {
		fmt.Printf("  Profile:     none cached\n")
	}
	if ps, err := (localstore.PaymentHistory{KV: kv}).Load(ctx); err == nil {
		fmt.Printf("  Payments:    %d recorded\n", len(ps))
	}
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
