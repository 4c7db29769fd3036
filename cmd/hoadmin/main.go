package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/hoadmin/internal/auth"
	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/config"
	"github.com/dukerupert/hoadmin/internal/database"
	"github.com/dukerupert/hoadmin/internal/functions"
	"github.com/dukerupert/hoadmin/internal/hoa"
	"github.com/dukerupert/hoadmin/internal/logging"
	"github.com/dukerupert/hoadmin/internal/storage"
	"github.com/dukerupert/hoadmin/internal/store"
	"github.com/dukerupert/hoadmin/internal/supabase"
)

const usage = `usage: hoadmin <command> [arguments]

commands:
  register                 create a new admin account
  login <admin-id>         sign in (password is prompted)
  logout                   sign out
  whoami                   show the signed-in admin
  pending                  list pending residents and reservations
  approve <kind> <id>      approve a resident or reservation
  reject <kind> <id>       reject a resident or reservation
  announce <title> [body]  post an announcement (-image <file>)
  announcements            list announcements
  unannounce <id>          delete an announcement and its image
  watch                    alert on new pending items until interrupted
`

// app holds everything the commands share.
type app struct {
	cfg    *config.Console
	logger *slog.Logger
	db     *sql.DB

	client    *supabase.Client
	functions *functions.Client
	coord     *auth.Coordinator
	manager   *auth.Manager

	admins        *hoa.Admins
	residents     *hoa.Residents
	reservations  *hoa.Reservations
	announcements *hoa.Announcements
}

func newApp(cfg *config.Console, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client := supabase.New(cfg.BackendURL, cfg.BackendAnonKey,
		supabase.WithSessionStore(store.NewSessionStore(db)),
		supabase.WithLogger(logger.With("component", "backend")),
	)
	fns := functions.NewClient(cfg.FunctionsURL, cfg.BackendAnonKey, functions.WithTokenSource(client.AccessToken))

	// A nil *Bucket must not end up inside the interface.
	var bucket backend.Storage
	if cfg.Storage.Configured() {
		bucket = storage.New(cfg.Storage, logger.With("component", "storage"))
	}

	coord := auth.NewCoordinator()
	admins := hoa.NewAdmins(client, client)

	return &app{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		client:        client,
		functions:     fns,
		coord:         coord,
		manager:       auth.NewManager(client, admins, coord, logger),
		admins:        admins,
		residents:     hoa.NewResidents(client),
		reservations:  hoa.NewReservations(client),
		announcements: hoa.NewAnnouncements(client, bucket, logger),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// session starts the manager and waits until the stored session has been
// restored. It fails when nobody is signed in.
func (a *app) session(ctx context.Context) (auth.Snapshot, error) {
	a.manager.Start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	snap, err := a.manager.Wait(waitCtx, func(s auth.Snapshot) bool {
		return s.Initialized && !s.Loading
	})
	if err != nil {
		return snap, fmt.Errorf("restore session: %w", err)
	}
	if snap.State != auth.StateLoggedIn {
		return snap, errNotSignedIn
	}
	return snap, nil
}

var errNotSignedIn = errors.New("not signed in, run: hoadmin login <admin-id>")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConsole()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "register":
		err = runRegister(ctx, a, newPrompter(os.Stdin, os.Stdout))
	case "login":
		err = runLogin(ctx, a, args, newPrompter(os.Stdin, os.Stdout))
	case "logout":
		err = runLogout(ctx, a)
	case "whoami":
		err = runWhoami(ctx, a)
	case "pending":
		err = runPending(ctx, a)
	case "approve", "reject":
		err = runDecide(ctx, a, cmd, args)
	case "announce":
		err = runAnnounce(ctx, a, args)
	case "announcements":
		err = runAnnouncements(ctx, a)
	case "unannounce":
		err = runUnannounce(ctx, a, args)
	case "watch":
		err = runWatch(ctx, a)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	a.manager.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		a.Close()
		os.Exit(1)
	}
}
