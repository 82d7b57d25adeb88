package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/keshly/keshly/internal/auth"
	"github.com/keshly/keshly/internal/bootstrap"
	"github.com/keshly/keshly/internal/common"
	repo "github.com/keshly/keshly/internal/repository"
	"github.com/keshly/keshly/internal/server"
)

var (
	errc  = color.New(color.BgRed, color.FgWhite).PrintfFunc()
	okc   = color.New(color.FgGreen).PrintfFunc()
	headc = color.New(color.BgBlue, color.FgWhite).PrintfFunc()
)

const usage = `keshly <command> [flags]

commands:
  signup   -email -password [-name]   create an account
  signin   -email -password           sign in and remember the session
  signout                             forget the stored session
  whoami                              show the signed-in user
  ingest   -url [-place] [-dry-run]   read a fiscal receipt link and save it
  add      -name -price [-qty] [-category] [-date] [-time] [-place]
                                      save a single manual item
  home                                this month's spending by category
  recent   [-n]                       latest receipts
  export   -out [-from] [-to]         write an XLSX workbook
`

func checkf(err error, format string, args ...any) {
	if err != nil {
		errc(" %s ", fmt.Sprintf(format, args...))
		fmt.Fprintf(os.Stderr, "\n%+v\n", errors.WithStack(err))
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		cfg.Database.Driver = repo.DriverSQLite
		cfg.Database.DSN = "keshly.db"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "keshly-local"
	}
	logger := bootstrap.Logger(common.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	checkf(err, "Unable to start")
	defer app.Close()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "signup":
		err = app.signUp(ctx, args)
	case "signin":
		err = app.signIn(ctx, args)
	case "signout":
		err = app.signOut()
	case "whoami":
		err = app.whoami(ctx)
	case "ingest":
		err = app.ingest(ctx, args)
	case "add":
		err = app.add(ctx, args)
	case "home":
		err = app.home(ctx)
	case "recent":
		err = app.recent(ctx, args)
	case "export":
		err = app.export(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	checkf(err, "%s failed", cmd)
}

type app struct {
	cfg     *common.Config
	db      *repo.DB
	store   auth.SessionStore
	manager *auth.Manager
	logger  *slog.Logger
	closers []func() error
}

func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*app, error) {
	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	store, err := auth.OpenSessionStore(cfg.Session.File)
	if err != nil {
		db.Close(logger)
		return nil, errors.Wrapf(err, "open session file %s", cfg.Session.File)
	}

	svc := auth.NewService(cfg.Auth,
		repo.NewUserRepository(db, logger),
		repo.NewProfileRepository(db, logger),
		auth.NewMailer(cfg.Mail, logger),
		logger,
	)
	manager := auth.NewManager(svc, store, logger)
	manager.OnAuthStateChange(func(ev auth.AuthEvent, s *auth.Session) {
		if ev == auth.EventTokenRefreshed {
			okc("session refreshed until %s\n", s.ExpiresAt.Local().Format(time.RFC822))
		}
	})

	return &app{cfg: cfg, db: db, store: store, manager: manager, logger: logger}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	_ = a.store.Close()
	a.db.Close(a.logger)
}

func parse(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(os.Stderr)
	return errors.WithStack(fs.Parse(args))
}
