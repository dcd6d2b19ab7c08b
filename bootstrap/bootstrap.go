// Package bootstrap builds the catalog API for serverless runtimes, which
// import it from outside the module's internal tree.
package bootstrap

import (
	"net/http"
	"sync"

	"autolist-backend/internal/config"
	"autolist-backend/internal/infrastructure/repository"
	"autolist-backend/internal/interfaces/router"
	"autolist-backend/internal/middleware"
	"autolist-backend/internal/pkg/logging"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Build loads the configuration and creates the app.
func Build() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.IsProduction())
	app, _, _, err := router.CreateApp(cfg)
	return app, err
}

// Lazy is an http.Handler that builds the app on first use. A cold start
// that cannot reach the database answers 503 and retries on the next
// request instead of failing the whole function instance.
type Lazy struct {
	build func() (*fiber.App, error)

	mu sync.Mutex
	h  http.Handler
}

func NewLazy(build func() (*fiber.App, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, err := l.handler()
	if err != nil {
		log.Error().Err(err).Msg("catalog api unavailable")
		h = unavailable(err)
	}
	r.RequestURI = r.URL.String()
	h.ServeHTTP(w, r)
}

func (l *Lazy) handler() (http.Handler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.h != nil {
		return l.h, nil
	}
	app, err := l.build()
	if err != nil {
		return nil, err
	}
	l.h = router.Handler(app)
	return l.h, nil
}

// unavailable answers every request with the build error as a 503 in the
// API's error envelope.
func unavailable(err error) http.Handler {
	app := fiber.New(fiber.Config{DisableStartupMessage: true, ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.Tracing())
	app.Use(func(c *fiber.Ctx) error {
		return &repository.InitializationError{Err: err}
	})
	return router.Handler(app)
}
