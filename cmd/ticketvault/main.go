// TicketVault keeps a local, offline-capable copy of a user's purchased
// tickets in sync with the remote sales API. Tickets stay readable and can be
// marked as used without connectivity; deferred mutations are pushed when the
// backend is reachable again.
//
// Usage:
//
//	ticketvault daemon [--config <path>]     # background sync loop + probe
//	ticketvault sync-once [--config <path>]  # single pull + push pass, then exit
//	ticketvault tickets [--event <id>]       # list cached tickets
//	ticketvault status                       # show sync and database state
//	ticketvault reset-db [--config <path>]   # drop and rebuild the local cache
//	ticketvault version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lfmachado/ticketvault/internal/config"
	"github.com/lfmachado/ticketvault/internal/model"
	"github.com/lfmachado/ticketvault/internal/remote"
	"github.com/lfmachado/ticketvault/internal/store"
	syncp "github.com/lfmachado/ticketvault/internal/sync"
	"github.com/lfmachado/ticketvault/internal/telemetry"
	"github.com/lfmachado/ticketvault/internal/tickets"
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

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "tickets":
		return runTickets(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "reset-db":
		return runResetDB(os.Args[2:])
	case "version":
		fmt.Println("ticketvault", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q; run 'ticketvault' for usage", cmd)
	}
}

func printUsage() error {
	fmt.Fprintln(os.Stderr, "TicketVault — offline-first ticket wallet")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  ticketvault daemon [--config ...]     Run the background sync loop")
	fmt.Fprintln(os.Stderr, "  ticketvault sync-once [--config ...]  Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  ticketvault tickets [--event <id>]    List cached tickets")
	fmt.Fprintln(os.Stderr, "  ticketvault status                    Show sync and database state")
	fmt.Fprintln(os.Stderr, "  ticketvault reset-db                  Drop and rebuild the local cache")
	fmt.Fprintln(os.Stderr, "  ticketvault version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	os.Exit(1)
	return nil // unreachable
}

// syncFlags is the flag set shared by the config-driven subcommands.
func syncFlags(name string, args []string) (cfgPath string, verbose bool, err error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfg := fs.String("config", defaultCfg, "path to config.yaml")
	v := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	return *cfg, *v, nil
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	cfgPath, verbose, err := syncFlags("sync", args)
	if err != nil {
		return err
	}
	logger := setupLogger(verbose)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"api_url", cfg.API.URL,
		"poll_interval", cfg.Sync.PollInterval,
		"cooldown", cfg.Sync.Cooldown,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Wiring --------------------------------------------------------------

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := app.engine.RunOnce(ctx)
		logger.Info("sync complete",
			"events", stats.Events,
			"tickets", stats.Tickets,
			"pushed", stats.Pushed,
			"errors", stats.Errors,
		)
		return err
	}

	logger.Info("daemon starting",
		"poll_interval", cfg.Sync.PollInterval,
		"probe_interval", cfg.Sync.ProbeInterval,
	)
	if err := app.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runTickets lists the cached tickets, optionally filtered by event.
func runTickets(args []string) error {
	fs := flag.NewFlagSet("tickets", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	eventID := fs.String("event", "", "only show tickets for this event ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := setupLogger(false)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	ctx := context.Background()

	if *eventID != "" {
		tks, err := app.wallet.TicketsByEvent(ctx, *eventID)
		if err != nil {
			return err
		}
		for _, tk := range tks {
			printTicket(tk)
		}
		return nil
	}

	groups, err := app.wallet.Grouped(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No cached tickets. Run 'ticketvault sync-once' first.")
		return nil
	}
	for _, g := range groups {
		fmt.Printf("%s — %s %s (%d ticket(s))\n",
			g.Event.Title, g.Event.Date, g.Event.Time, len(g.Tickets))
		for _, tk := range g.Tickets {
			printTicket(tk)
		}
	}
	return nil
}

func printTicket(tk *model.Ticket) {
	state := "valid"
	if tk.Used {
		state = "used"
	}
	if tk.PendingSync {
		state += ", pending push"
	}
	fmt.Printf("  %-12s %-20s %s\n", tk.DisplayCode(), tk.Type, state)
}

// runStatus prints the sync and database state.
func runStatus(args []string) error {
	cfgPath, _, err := syncFlags("status", args)
	if err != nil {
		return err
	}
	logger := setupLogger(false)

	fmt.Println("TicketVault Status")
	fmt.Println("──────────────────")

	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, cfgErr)
		return nil
	}
	fmt.Printf("  Config:     %s\n", cfgPath)
	fmt.Printf("  API URL:    %s\n", cfg.API.URL)
	fmt.Printf("  Poll:       %s\n", cfg.Sync.PollInterval)

	app, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Printf("  Database:   unavailable (%v)\n", err)
		return nil
	}
	defer app.close(logger)

	ctx := context.Background()

	st := app.wallet.Status()
	health := "ok"
	if st.Corrupted {
		health = fmt.Sprintf("corrupted (%d/%d failures)", st.ConsecutiveFailures, st.MaxFailures)
	} else if st.ConsecutiveFailures > 0 {
		health = fmt.Sprintf("degraded (%d/%d failures)", st.ConsecutiveFailures, st.MaxFailures)
	}
	fmt.Printf("  Database:   %s (%s)\n", app.dbPath, health)

	lastSync, lastErr, err := app.wallet.LastSync(ctx)
	switch {
	case err != nil:
		fmt.Printf("  Last sync:  unknown (%v)\n", err)
	case lastSync.IsZero():
		fmt.Println("  Last sync:  never")
	default:
		fmt.Printf("  Last sync:  %s\n", lastSync.Format(time.RFC3339))
	}
	if lastErr != "" {
		fmt.Printf("  Last error: %s\n", lastErr)
	}

	tks, err := app.wallet.LocalTickets(ctx)
	if err == nil {
		fmt.Printf("  Tickets:    %d cached\n", len(tks))
	}
	return nil
}

// runResetDB drops and rebuilds the local cache, then force-syncs.
func runResetDB(args []string) error {
	cfgPath, verbose, err := syncFlags("reset-db", args)
	if err != nil {
		return err
	}
	logger := setupLogger(verbose)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := app.syncer.ForceResetDatabase(ctx); err != nil {
		return fmt.Errorf("resetting local database: %w", err)
	}
	fmt.Println("Local database rebuilt and resynced.")
	return nil
}

// --- Wiring ------------------------------------------------------------------

// app bundles the wired components shared by the subcommands.
type app struct {
	store  *store.Store
	syncer *syncp.Syncer
	engine *syncp.Engine
	wallet *tickets.Service
	dbPath string
}

// buildApp wires store, executor, remote client, syncer, engine, and the
// wallet facade from the loaded config.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	dbPath := cfg.Sync.DBPath
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving database path: %w", err)
		}
		dbPath = p
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	logger.Debug("database opened", "path", dbPath)

	exec := store.NewExecutor(st, logger)
	client := remote.NewClient(cfg.API.URL, cfg.API.Token, logger)
	syncer := syncp.NewSyncer(client, st, exec, cfg.Sync.Cooldown, logger)

	// push sends one queued mutation upstream.
	push := func(ctx context.Context, op model.QueuedOp) error {
		switch op.Type {
		case model.OpMarkUsed:
			p, err := model.DecodeMarkUsed(op.Payload)
			if err != nil {
				return fmt.Errorf("decoding %s payload: %w", op.Type, err)
			}
			return client.MarkSaleUsed(ctx, p.TicketID, p.Used)
		default:
			return fmt.Errorf("unknown queued operation type %q", op.Type)
		}
	}

	engine := syncp.NewEngine(syncer, client, push, cfg.Sync.PollInterval, cfg.Sync.ProbeInterval, logger)
	wallet := tickets.NewService(st, syncer, push, logger)
	engine.OnConnectivityChange(wallet.SetConnected)

	return &app{
		store:  st,
		syncer: syncer,
		engine: engine,
		wallet: wallet,
		dbPath: dbPath,
	}, nil
}

func (a *app) close(logger *slog.Logger) {
	if err := a.store.Close(); err != nil {
		logger.Error("closing database", "error", err)
	}
}
