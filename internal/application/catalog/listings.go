package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"autolist-backend/internal/application/listingevents"
	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/cache"
	"autolist-backend/internal/infrastructure/database"
	"autolist-backend/internal/infrastructure/repository"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	detailKeyPrefix = cachePrefix + "listing:"
	statsKeyPrefix  = cachePrefix + "stats:"
)

// Everything a listing page shows: seller, source, the trim up to its
// brand, images and the price series newest first.
var listingDetailInclude = repository.Include{
	"seller": nil,
	"source": nil,
	"trim": {Include: repository.Include{
		"version": {Include: repository.Include{
			"model": {Include: repository.Include{"brand": nil}},
		}},
	}},
	"images":       {OrderBy: repository.OrderByList{repository.Asc("id")}},
	"priceHistory": {OrderBy: repository.OrderByList{repository.Desc("recordedAt")}},
}

func requireListingID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &repository.ValidationError{Model: "CarListing", Field: "id", Err: errors.New("listing id is required")}
	}
	return nil
}

// ListingDetail returns one listing with its related rows. Results are cached.
func (s *Service) ListingDetail(ctx context.Context, id string) (*domain.CarListing, error) {
	if err := requireListingID(id); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.Cache, detailKeyPrefix+id, s.ttl(), func(ctx context.Context) (*domain.CarListing, error) {
		return s.Client.CarListing.FindUniqueOrThrow(ctx, repository.UniqueArgs{
			Where:   repository.Where{"id": id},
			Include: listingDetailInclude,
		})
	})
}

// PriceInput is a newly observed price for a listing. Currency defaults to
// the listing's current currency, RecordedAt to now.
type PriceInput struct {
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"priceCurrency,omitempty"`
	RecordedAt *time.Time      `json:"recordedAt,omitempty"`
}

type PriceResult struct {
	Changed bool                 `json:"changed"`
	Listing *domain.CarListing   `json:"listing"`
	Entry   *domain.PriceHistory `json:"entry,omitempty"`
}

// RecordPrice appends a price history point and moves the listing to the
// new price in one transaction. An unchanged price writes nothing.
func (s *Service) RecordPrice(ctx context.Context, listingID string, in PriceInput) (*PriceResult, error) {
	if err := requireListingID(listingID); err != nil {
		return nil, err
	}
	var res PriceResult
	err := s.Client.Transaction(ctx, func(ctx context.Context, tx *database.Client) error {
		key := repository.Where{"id": listingID}
		listing, err := tx.CarListing.FindUniqueOrThrow(ctx, repository.UniqueArgs{Where: key})
		if err != nil {
			return err
		}
		currency := strings.ToUpper(strings.TrimSpace(in.Currency))
		if currency == "" {
			currency = listing.PriceCurrency
		}
		if listing.Price.Equal(in.Price) && listing.PriceCurrency == currency {
			res.Listing = listing
			return nil
		}

		entry := &domain.PriceHistory{
			ListingID:     listingID,
			Price:         in.Price,
			PriceCurrency: currency,
		}
		if in.RecordedAt != nil {
			entry.RecordedAt = in.RecordedAt.UTC()
		}
		if _, err := tx.PriceHistory.Create(ctx, entry); err != nil {
			return err
		}
		updated, err := tx.CarListing.Update(ctx, key, repository.Data{
			"price":         in.Price,
			"priceCurrency": currency,
		})
		if err != nil {
			return err
		}
		if err := listingevents.Record(ctx, tx, listingID, domain.ListingPriceChanged, map[string]interface{}{
			"oldPrice":    listing.Price,
			"oldCurrency": listing.PriceCurrency,
			"newPrice":    in.Price,
			"newCurrency": currency,
		}); err != nil {
			return err
		}
		res = PriceResult{Changed: true, Listing: updated, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Changed {
		s.invalidate(ctx)
	}
	return &res, nil
}

// CurrencyStats summarizes the listings priced in one currency.
type CurrencyStats struct {
	Currency string           `json:"currency"`
	Count    int64            `json:"count"`
	AvgPrice *float64         `json:"avgPrice"`
	MinPrice *decimal.Decimal `json:"minPrice"`
	MaxPrice *decimal.Decimal `json:"maxPrice"`
}

type ListingStats struct {
	Total      int64           `json:"total"`
	New        int64           `json:"new"`
	ByCurrency []CurrencyStats `json:"byCurrency"`
}

// ListingStats summarizes the listings matching where. Prices are only
// comparable within a currency, so they are aggregated per currency.
func (s *Service) ListingStats(ctx context.Context, where repository.Where) (*ListingStats, error) {
	key, err := statsKey(where)
	if err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.Cache, key, s.ttl(), func(ctx context.Context) (*ListingStats, error) {
		st := &ListingStats{ByCurrency: []CurrencyStats{}}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := s.Client.CarListing.Count(gctx, where)
			st.Total = n
			return err
		})
		g.Go(func() error {
			n, err := s.Client.CarListing.Count(gctx, repository.Where{
				"AND": []repository.Where{where, {"isNew": true}},
			})
			st.New = n
			return err
		})
		g.Go(func() error {
			groups, err := s.Client.CarListing.GroupBy(gctx, repository.GroupByArgs{
				By:      repository.FieldSet{"priceCurrency"},
				Where:   where,
				OrderBy: repository.OrderByList{repository.Asc("priceCurrency")},
				Aggregates: repository.Aggregates{
					Count: true,
					Avg:   repository.FieldSet{"price"},
					Min:   repository.FieldSet{"price"},
					Max:   repository.FieldSet{"price"},
				},
			})
			if err != nil {
				return err
			}
			for _, grp := range groups {
				cs := CurrencyStats{
					AvgPrice: grp.Avg["price"],
					MinPrice: asDecimal(grp.Min["price"]),
					MaxPrice: asDecimal(grp.Max["price"]),
				}
				cs.Currency, _ = grp.By["priceCurrency"].(string)
				if grp.Count != nil {
					cs.Count = *grp.Count
				}
				st.ByCurrency = append(st.ByCurrency, cs)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return st, nil
	})
}

func asDecimal(v interface{}) *decimal.Decimal {
	if d, ok := v.(decimal.Decimal); ok {
		return &d
	}
	return nil
}

// statsKey is stable for equal filters: encoding/json sorts map keys.
func statsKey(where repository.Where) (string, error) {
	b, err := json.Marshal(where)
	if err != nil {
		return "", &repository.ValidationError{Model: "CarListing", Field: "where", Err: err}
	}
	sum := sha256.Sum256(b)
	return statsKeyPrefix + hex.EncodeToString(sum[:16]), nil
}
