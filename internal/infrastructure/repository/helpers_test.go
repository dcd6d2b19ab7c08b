package repository

import (
	"context"
	"testing"
	"time"

	"autolist-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(domain.All()...))
	return db
}

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var scraped = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seedCatalog inserts two brands down to three listings:
//
//	l-corolla  Toyota Corolla LE, dealer,  18000.00 USD, 2020, 2 images, 2 prices
//	l-hybrid   Toyota Corolla LE, private, 21000.50 USD, 2021, new
//	l-focus    Ford Focus SE,     dealer,  12999.99 EUR, 2019
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	rows := []interface{}{
		&[]domain.Brand{{ID: "b-toyota", Name: "Toyota"}, {ID: "b-ford", Name: "Ford"}},
		&[]domain.Model{
			{ID: "m-corolla", BrandID: "b-toyota", Name: "Corolla", BodyType: "sedan"},
			{ID: "m-focus", BrandID: "b-ford", Name: "Focus", BodyType: "hatchback"},
		},
		&[]domain.Version{
			{ID: "v-corolla", ModelID: "m-corolla", VersionName: "E210", Year: 2020},
			{ID: "v-focus", ModelID: "m-focus", VersionName: "Mk3", Year: 2019},
		},
		&[]domain.Trim{
			{ID: "t-corolla-le", VersionID: "v-corolla", Name: "LE", MotorSize: 1800, FuelType: "Gasoline", TransmissionType: "Automatic"},
			{ID: "t-focus-se", VersionID: "v-focus", Name: "SE", MotorSize: 1600, FuelType: "Gasoline", TransmissionType: "Manual"},
		},
		&[]domain.Source{{ID: "s-autos", Name: "Autos", BaseURL: "https://autos.example.com"}},
		&[]domain.Seller{
			{ID: "sl-dealer", Name: "Sunrise Motors", Email: strPtr("sales@sunrise.example.com"), Type: domain.SellerTypeDealer},
			{ID: "sl-private", Name: "Jane Doe", Type: domain.SellerTypePrivate},
		},
		&[]domain.CarListing{
			{
				ID: "l-corolla", SellerID: "sl-dealer", SourceID: "s-autos", TrimID: "t-corolla-le",
				URL: "https://autos.example.com/l/1", Title: "Toyota Corolla LE",
				Price: dec("18000.00"), PriceCurrency: "USD", Year: 2020, Mileage: 30000,
				ExteriorColor: "White", Location: "Austin", ScrapedAt: scraped,
			},
			{
				ID: "l-hybrid", SellerID: "sl-private", SourceID: "s-autos", TrimID: "t-corolla-le",
				URL: "https://autos.example.com/l/2", Title: "Corolla 100% clean",
				Price: dec("21000.50"), PriceCurrency: "USD", Year: 2021, Mileage: 5000,
				ExteriorColor: "Blue", IsNew: true, Location: "Dallas", ScrapedAt: scraped.Add(time.Hour),
			},
			{
				ID: "l-focus", SellerID: "sl-dealer", SourceID: "s-autos", TrimID: "t-focus-se",
				URL: "https://autos.example.com/l/3", Title: "Ford Focus SE",
				Price: dec("12999.99"), PriceCurrency: "EUR", Year: 2019, Mileage: 60000,
				ExteriorColor: "Grey", Location: "Berlin", ScrapedAt: scraped.Add(2 * time.Hour),
			},
		},
		&[]domain.Image{
			{ID: "img-1", ListingID: "l-corolla", URL: "https://cdn.example.com/1.jpg"},
			{ID: "img-2", ListingID: "l-corolla", URL: "https://cdn.example.com/2.jpg"},
		},
		&[]domain.PriceHistory{
			{ID: "ph-1", ListingID: "l-corolla", Price: dec("19500.00"), PriceCurrency: "USD", RecordedAt: scraped.Add(-48 * time.Hour)},
			{ID: "ph-2", ListingID: "l-corolla", Price: dec("18000.00"), PriceCurrency: "USD", RecordedAt: scraped},
		},
	}
	for _, r := range rows {
		require.NoError(t, db.Create(r).Error)
	}
}

func listingRepo(t *testing.T) (*Repository[domain.CarListing], *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	seedCatalog(t, db)
	r, err := New[domain.CarListing](db)
	require.NoError(t, err)
	return r, db
}

func listingIDs(rows []domain.CarListing) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

var bg = context.Background()
