package router

import (
	"context"
	"net/http"
	"time"

	catalogsvc "autolist-backend/internal/application/catalog"
	lesvc "autolist-backend/internal/application/listingevents"
	"autolist-backend/internal/config"
	"autolist-backend/internal/infrastructure/cache"
	"autolist-backend/internal/infrastructure/database"
	cataloghandler "autolist-backend/internal/interfaces/handlers/catalog"
	healthhandler "autolist-backend/internal/interfaces/handlers/health"
	lehandler "autolist-backend/internal/interfaces/handlers/listingevents"
	listhandler "autolist-backend/internal/interfaces/handlers/listings"
	"autolist-backend/internal/middleware"
	"autolist-backend/internal/pkg/logging"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Deps are the services the routes are wired to. Rdb is optional.
type Deps struct {
	Catalog        *catalogsvc.Service
	ListingEvents  *lesvc.Service
	Rdb            *redis.Client
	AdminKeyHash   string
	HealthAdminKey string
	CORS           middleware.CORSConfig
}

// CreateApp opens the database (migrating it when configured) and Redis,
// then builds the Fiber app. Redis is optional: without it the cache and
// request stats are off.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	db, err := database.Open(cfg.DatabaseURL,
		database.WithLogLevel(logging.GormLevel(cfg.LogLevel)),
		database.WithSlowThreshold(cfg.SlowQuery),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return nil, nil, nil, err
		}
	}
	client, err := database.NewClient(db, database.WithMaxWait(cfg.TxMaxWait), database.WithTimeout(cfg.TxTimeout))
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		rdb    *redis.Client
		loader *cache.Loader
	)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		rdb, err = cache.Dial(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, cache and request stats disabled")
			rdb = nil
		} else {
			loader = cache.NewLoader(cache.NewRedis(rdb))
		}
	}

	app := New(Deps{
		Catalog:        &catalogsvc.Service{Client: client, Cache: loader, CacheTTL: cfg.CacheTTL},
		ListingEvents:  &lesvc.Service{Client: client},
		Rdb:            rdb,
		AdminKeyHash:   cfg.AdminKeyHash,
		HealthAdminKey: cfg.HealthAdminKey,
		CORS: middleware.CORSConfig{
			AllowedSuffixes: cfg.FrontendURLEndsWith,
			DevPassword:     cfg.DevPassword,
		},
	})
	return app, db, rdb, nil
}

// New registers middleware and routes on a fresh app.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(d.CORS))
	app.Use(middleware.Tracing())
	app.Use(middleware.HealthMarker(d.Rdb))
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{
		Rdb:            d.Rdb,
		DB:             d.Catalog.Client,
		HealthAdminKey: d.HealthAdminKey,
	}
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Get("/health/reset", hh.Reset)

	if d.AdminKeyHash == "" {
		log.Warn().Msg("ADMIN_KEY_HASH not set, catalog writes are not protected")
	}
	admin := middleware.RequireAdminKey(middleware.AdminKeyConfig{Hash: d.AdminKeyHash})
	writesOnly := middleware.RequireAdminKey(middleware.AdminKeyConfig{
		Hash: d.AdminKeyHash,
		When: func(c *fiber.Ctx) bool { return catalogsvc.IsWrite(c.Params("action")) },
	})

	api := app.Group("/api/v1")

	lh := &listhandler.Handlers{Service: d.Catalog}
	api.Get("/listings/stats", lh.Stats)
	api.Get("/listings/:id", lh.GetListing)
	api.Post("/listings/:id/price", admin, lh.RecordPrice)

	leh := &lehandler.Handlers{Service: d.ListingEvents}
	api.Get("/listing-events/:listing_id", leh.GetListingEvents)

	ch := &cataloghandler.Handlers{Service: d.Catalog}
	api.Post("/transaction", admin, ch.Transaction)
	api.Post("/raw/query", admin, ch.RawQuery)
	api.Post("/raw/execute", admin, ch.RawExecute)
	// generic operations last: it matches any two segments
	api.Post("/:model/:action", writesOnly, ch.Operation)

	return app
}

func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
