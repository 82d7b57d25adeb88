// Package server exposes the keshly services over HTTP (fiber) and gRPC.
package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/auth"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/export"
	"github.com/keshly/keshly/internal/ingest"
	"github.com/keshly/keshly/internal/profiles"
	"github.com/keshly/keshly/internal/receipts"
	"github.com/keshly/keshly/internal/stats"
)

// TokenVerifier resolves a bearer access token to its user.
type TokenVerifier interface {
	Authenticate(accessToken string) (uuid.UUID, error)
}

// Accounts is the part of auth.Service the HTTP API calls.
type Accounts interface {
	TokenVerifier
	auth.Authenticator
	Confirm(ctx context.Context, token string) error
}

// Services are the collaborators wired behind the routes.
type Services struct {
	Auth     Accounts
	Profiles *profiles.Service
	Receipts *receipts.Service
	Flows    *ingest.Registry
	Stats    *stats.Service
	Export   *export.Service
}

type HTTPServer struct {
	app    *fiber.App
	svc    Services
	logger *slog.Logger
}

type HTTPOption func(*httpOptions)

type httpOptions struct {
	accessLog io.Writer
}

// WithAccessLog redirects the access log; nil disables it.
func WithAccessLog(w io.Writer) HTTPOption {
	return func(o *httpOptions) { o.accessLog = w }
}

func NewHTTPServer(cfg common.ServerConfig, svc Services, log *slog.Logger, opts ...HTTPOption) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	o := httpOptions{accessLog: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	s := &HTTPServer{svc: svc, logger: log}
	s.app = fiber.New(fiber.Config{
		AppName:               "keshly",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          2 * time.Minute,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	if o.accessLog != nil {
		s.app.Use(logger.New(logger.Config{
			Format:     "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
			TimeFormat: "2006-01-02 15:04:05",
			Output:     o.accessLog,
		}))
	}
	if cfg.RateLimit > 0 {
		s.app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: time.Minute,
		}))
	}
	s.routes()
	return s
}

func (s *HTTPServer) App() *fiber.App { return s.app }

func (s *HTTPServer) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	a := s.app.Group("/auth")
	a.Post("/signup", s.signUp)
	a.Post("/signin", s.signIn)
	a.Post("/refresh", s.refresh)
	a.Get("/confirm", s.confirm)

	secured := s.app.Group("", s.requireUser)

	secured.Get("/profile", s.getProfile)
	secured.Put("/profile", s.putProfile)

	in := secured.Group("/ingest")
	in.Get("", s.snapshot)
	in.Post("/mode", s.selectMode)
	in.Post("/source", s.submitSource)
	in.Post("/items", s.addItem)
	in.Patch("/items/:index", s.updateItem)
	in.Delete("/items/:index", s.removeItem)
	in.Put("/details", s.setDetails)
	in.Post("/save", s.save)
	in.Post("/reset", s.reset)
	in.Get("/suggest", s.suggest)

	st := secured.Group("/stats")
	st.Get("/home", s.home)
	st.Get("/monthly", s.monthly)
	st.Get("/period", s.period)

	rc := secured.Group("/receipts")
	rc.Get("", s.listReceipts)
	rc.Get("/recent", s.recent)
	rc.Get("/export.xlsx", s.exportXLSX)
}

func (s *HTTPServer) Listen(addr string) error {
	s.logger.Info("http listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
