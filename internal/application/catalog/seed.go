package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/database"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML seed format. Rows need stable ids so seeding twice
// leaves the catalog unchanged. Prices are strings to keep them exact.
type Fixtures struct {
	Brands   []BrandFixture   `yaml:"brands"`
	Models   []ModelFixture   `yaml:"models"`
	Versions []VersionFixture `yaml:"versions"`
	Trims    []TrimFixture    `yaml:"trims"`
	Sources  []SourceFixture  `yaml:"sources"`
	Sellers  []SellerFixture  `yaml:"sellers"`
	Listings []ListingFixture `yaml:"listings"`
}

type BrandFixture struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type ModelFixture struct {
	ID       string `yaml:"id"`
	BrandID  string `yaml:"brandId"`
	Name     string `yaml:"name"`
	BodyType string `yaml:"bodyType"`
}

type VersionFixture struct {
	ID          string `yaml:"id"`
	ModelID     string `yaml:"modelId"`
	VersionName string `yaml:"versionName"`
	Year        int    `yaml:"year"`
}

type TrimFixture struct {
	ID               string `yaml:"id"`
	VersionID        string `yaml:"versionId"`
	Name             string `yaml:"name"`
	MotorSize        int    `yaml:"motorSize"`
	FuelType         string `yaml:"fuelType"`
	TransmissionType string `yaml:"transmissionType"`
}

type SourceFixture struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"baseUrl"`
}

type SellerFixture struct {
	ID    string  `yaml:"id"`
	Name  string  `yaml:"name"`
	Email *string `yaml:"email"`
	Phone *string `yaml:"phone"`
	Type  string  `yaml:"type"`
}

type PricePoint struct {
	Price      string    `yaml:"price"`
	RecordedAt time.Time `yaml:"recordedAt"`
}

type ListingFixture struct {
	ID            string       `yaml:"id"`
	SellerID      string       `yaml:"sellerId"`
	SourceID      string       `yaml:"sourceId"`
	TrimID        string       `yaml:"trimId"`
	URL           string       `yaml:"url"`
	Title         string       `yaml:"title"`
	Description   *string      `yaml:"description"`
	Price         string       `yaml:"price"`
	PriceCurrency string       `yaml:"priceCurrency"`
	Year          int          `yaml:"year"`
	Mileage       int          `yaml:"mileage"`
	ExteriorColor string       `yaml:"exteriorColor"`
	InteriorColor string       `yaml:"interiorColor"`
	IsNew         bool         `yaml:"isNew"`
	Location      string       `yaml:"location"`
	PublishedAt   *time.Time   `yaml:"publishedAt"`
	ScrapedAt     time.Time    `yaml:"scrapedAt"`
	Images        []string     `yaml:"images"`
	PriceHistory  []PricePoint `yaml:"priceHistory"`
}

// SeedReport counts the rows inserted per table. Rows that already existed
// are not counted.
type SeedReport map[string]int64

func ParseFixtures(b []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(b, &fx); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &fx, nil
}

func LoadFixtures(path string) (*Fixtures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(b)
}

// Seed inserts the fixtures in one transaction, parents first, skipping
// rows whose key already exists.
func (s *Service) Seed(ctx context.Context, fx *Fixtures) (SeedReport, error) {
	brands := make([]domain.Brand, 0, len(fx.Brands))
	for _, b := range fx.Brands {
		brands = append(brands, domain.Brand{ID: b.ID, Name: b.Name})
	}
	models := make([]domain.Model, 0, len(fx.Models))
	for _, m := range fx.Models {
		models = append(models, domain.Model{ID: m.ID, BrandID: m.BrandID, Name: m.Name, BodyType: m.BodyType})
	}
	versions := make([]domain.Version, 0, len(fx.Versions))
	for _, v := range fx.Versions {
		versions = append(versions, domain.Version{ID: v.ID, ModelID: v.ModelID, VersionName: v.VersionName, Year: v.Year})
	}
	trims := make([]domain.Trim, 0, len(fx.Trims))
	for _, t := range fx.Trims {
		trims = append(trims, domain.Trim{
			ID: t.ID, VersionID: t.VersionID, Name: t.Name,
			MotorSize: t.MotorSize, FuelType: t.FuelType, TransmissionType: t.TransmissionType,
		})
	}
	sources := make([]domain.Source, 0, len(fx.Sources))
	for _, src := range fx.Sources {
		sources = append(sources, domain.Source{ID: src.ID, Name: src.Name, BaseURL: src.BaseURL})
	}
	sellers := make([]domain.Seller, 0, len(fx.Sellers))
	for _, sl := range fx.Sellers {
		sellers = append(sellers, domain.Seller{ID: sl.ID, Name: sl.Name, Email: sl.Email, Phone: sl.Phone, Type: sl.Type})
	}

	var (
		listings []domain.CarListing
		images   []domain.Image
		history  []domain.PriceHistory
	)
	for _, l := range fx.Listings {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, fmt.Errorf("listing %s: price %q: %w", l.ID, l.Price, err)
		}
		listings = append(listings, domain.CarListing{
			ID: l.ID, SellerID: l.SellerID, SourceID: l.SourceID, TrimID: l.TrimID,
			URL: l.URL, Title: l.Title, Description: l.Description,
			Price: price, PriceCurrency: l.PriceCurrency,
			Year: l.Year, Mileage: l.Mileage,
			ExteriorColor: l.ExteriorColor, InteriorColor: l.InteriorColor,
			IsNew: l.IsNew, Location: l.Location,
			PublishedAt: l.PublishedAt, ScrapedAt: l.ScrapedAt.UTC(),
		})
		for i, u := range l.Images {
			images = append(images, domain.Image{ID: fmt.Sprintf("%s-img-%d", l.ID, i), ListingID: l.ID, URL: u})
		}
		for i, p := range l.PriceHistory {
			hp, err := decimal.NewFromString(p.Price)
			if err != nil {
				return nil, fmt.Errorf("listing %s: history price %q: %w", l.ID, p.Price, err)
			}
			history = append(history, domain.PriceHistory{
				ID: fmt.Sprintf("%s-ph-%d", l.ID, i), ListingID: l.ID,
				Price: hp, PriceCurrency: l.PriceCurrency, RecordedAt: p.RecordedAt.UTC(),
			})
		}
	}

	report := SeedReport{}
	err := s.Transaction(ctx, func(ctx context.Context, tx *database.Client) error {
		steps := []struct {
			table string
			run   func() (int64, error)
		}{
			{"brands", func() (int64, error) { return tx.Brand.CreateMany(ctx, brands, true) }},
			{"models", func() (int64, error) { return tx.Model.CreateMany(ctx, models, true) }},
			{"versions", func() (int64, error) { return tx.Version.CreateMany(ctx, versions, true) }},
			{"trims", func() (int64, error) { return tx.Trim.CreateMany(ctx, trims, true) }},
			{"sources", func() (int64, error) { return tx.Source.CreateMany(ctx, sources, true) }},
			{"sellers", func() (int64, error) { return tx.Seller.CreateMany(ctx, sellers, true) }},
			{"car_listings", func() (int64, error) { return tx.CarListing.CreateMany(ctx, listings, true) }},
			{"images", func() (int64, error) { return tx.Image.CreateMany(ctx, images, true) }},
			{"price_history", func() (int64, error) { return tx.PriceHistory.CreateMany(ctx, history, true) }},
		}
		for _, step := range steps {
			n, err := step.run()
			if err != nil {
				return fmt.Errorf("seed %s: %w", step.table, err)
			}
			report[step.table] = n
		}
		return nil
	}, database.WithTimeout(time.Minute))
	if err != nil {
		return nil, err
	}
	log.Info().Interface("inserted", report).Msg("catalog seeded")
	return report, nil
}
