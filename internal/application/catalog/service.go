package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autolist-backend/internal/application/listingevents"
	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/cache"
	"autolist-backend/internal/infrastructure/database"
	"autolist-backend/internal/infrastructure/repository"

	"github.com/rs/zerolog/log"
)

const (
	cachePrefix     = "catalog:"
	defaultCacheTTL = 5 * time.Minute
)

// Service exposes the catalog models through generic operations plus the
// listing workflows. Cache may be nil.
type Service struct {
	Client   *database.Client
	Cache    *cache.Loader
	CacheTTL time.Duration

	once     sync.Once
	registry map[string]dispatcher
}

func (s *Service) ttl() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return defaultCacheTTL
}

func (s *Service) entities() map[string]dispatcher {
	s.once.Do(func() {
		s.registry = map[string]dispatcher{
			"brand":        &entity[domain.Brand]{repo: func(c *database.Client) *repository.Repository[domain.Brand] { return c.Brand }},
			"model":        &entity[domain.Model]{repo: func(c *database.Client) *repository.Repository[domain.Model] { return c.Model }},
			"version":      &entity[domain.Version]{repo: func(c *database.Client) *repository.Repository[domain.Version] { return c.Version }},
			"trim":         &entity[domain.Trim]{repo: func(c *database.Client) *repository.Repository[domain.Trim] { return c.Trim }},
			"source":       &entity[domain.Source]{repo: func(c *database.Client) *repository.Repository[domain.Source] { return c.Source }},
			"seller":       &entity[domain.Seller]{repo: func(c *database.Client) *repository.Repository[domain.Seller] { return c.Seller }},
			"image":        &entity[domain.Image]{repo: func(c *database.Client) *repository.Repository[domain.Image] { return c.Image }},
			"pricehistory": &entity[domain.PriceHistory]{repo: func(c *database.Client) *repository.Repository[domain.PriceHistory] { return c.PriceHistory }},
			"carlisting": &entity[domain.CarListing]{
				repo:    func(c *database.Client) *repository.Repository[domain.CarListing] { return c.CarListing },
				changed: recordListingChanges,
			},
			"listingevent": &entity[domain.ListingEvent]{
				repo:     func(c *database.Client) *repository.Repository[domain.ListingEvent] { return c.ListingEvent },
				readOnly: true,
			},
		}
	})
	return s.registry
}

var modelAliases = map[string]string{
	"brands":         "brand",
	"models":         "model",
	"versions":       "version",
	"trims":          "trim",
	"sources":        "source",
	"sellers":        "seller",
	"images":         "image",
	"pricehistories": "pricehistory",
	"carlistings":    "carlisting",
	"listing":        "carlisting",
	"listings":       "carlisting",
	"listingevents":  "listingevent",
}

// lookup accepts carListing, CarListing, car-listings, car_listing and so on.
func (s *Service) lookup(model string) (dispatcher, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(model))
	if alias, ok := modelAliases[key]; ok {
		key = alias
	}
	d, ok := s.entities()[key]
	if !ok {
		return nil, &repository.ValidationError{Model: model, Field: "model", Err: fmt.Errorf("%w: %q", ErrUnknownModel, model)}
	}
	return d, nil
}

// Execute runs one operation. Writes run in their own transaction and
// invalidate cached catalog reads.
func (s *Service) Execute(ctx context.Context, op Operation) (interface{}, error) {
	d, err := s.lookup(op.Model)
	if err != nil {
		return nil, err
	}
	if !IsWrite(op.Action) {
		return d.dispatch(ctx, s.Client, op.Action, op.Args)
	}
	var out interface{}
	err = s.Client.Transaction(ctx, func(ctx context.Context, tx *database.Client) error {
		var err error
		out, err = d.dispatch(ctx, tx, op.Action, op.Args)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

// ExecuteBatch runs ops in order in one transaction. Any failure rolls back
// all of them.
func (s *Service) ExecuteBatch(ctx context.Context, ops []Operation, opts ...database.TxOption) ([]interface{}, error) {
	steps := make([]database.BatchOp, 0, len(ops))
	writes := false
	for _, op := range ops {
		d, err := s.lookup(op.Model)
		if err != nil {
			return nil, err
		}
		writes = writes || IsWrite(op.Action)
		op := op
		steps = append(steps, func(ctx context.Context, tx *database.Client) (interface{}, error) {
			return d.dispatch(ctx, tx, op.Action, op.Args)
		})
	}
	results, err := s.Client.Batch(ctx, steps, opts...)
	if err != nil {
		return nil, err
	}
	if writes {
		s.invalidate(ctx)
	}
	return results, nil
}

// Transaction runs fn in one transaction and invalidates the cache after
// a successful commit.
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *database.Client) error, opts ...database.TxOption) error {
	if err := s.Client.Transaction(ctx, fn, opts...); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	s.Cache.Invalidate(context.WithoutCancel(ctx), cachePrefix)
}

func recordListingChanges(ctx context.Context, tx *database.Client, kind string, rows []domain.CarListing, data repository.Data) error {
	var fields []string
	for k := range data {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, l := range rows {
		payload := map[string]interface{}{
			"url":           l.URL,
			"price":         l.Price,
			"priceCurrency": l.PriceCurrency,
		}
		if fields != nil {
			payload["fields"] = fields
		}
		if err := listingevents.Record(ctx, tx, l.ID, kind, payload); err != nil {
			return err
		}
	}
	log.Debug().Str("event", kind).Int("listings", len(rows)).Msg("listing events recorded")
	return nil
}

func (s *Service) QueryRaw(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	return s.Client.QueryRaw(ctx, query, args...)
}

// ExecuteRaw runs a parameterized statement. The engine cannot tell what a
// raw statement touched, so the whole catalog cache is dropped.
func (s *Service) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	n, err := s.Client.ExecuteRaw(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}
