package domain

import (
	"errors"
	"testing"
	"time"

	"autolist-backend/internal/pkg/validation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func validListing() *CarListing {
	return &CarListing{
		SellerID:      "seller-1",
		SourceID:      "source-1",
		TrimID:        "trim-1",
		URL:           "https://autoplaza.example.com/listings/1",
		Title:         "2020 Toyota Corolla",
		Price:         decimal.RequireFromString("18000.00"),
		PriceCurrency: "USD",
		Year:          2020,
		Mileage:       42000,
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var fe *validation.FieldError
	require.True(t, errors.As(err, &fe), "%v", err)
	return fe.Field
}

func TestCarListing_Validate(t *testing.T) {
	require.NoError(t, validListing().Validate())

	cases := map[string]func(l *CarListing){
		"sellerId":      func(l *CarListing) { l.SellerID = " " },
		"title":         func(l *CarListing) { l.Title = "" },
		"url":           func(l *CarListing) { l.URL = "ftp://example.com/1" },
		"price":         func(l *CarListing) { l.Price = decimal.NewFromInt(-1) },
		"priceCurrency": func(l *CarListing) { l.PriceCurrency = "usd" },
		"year":          func(l *CarListing) { l.Year = 1700 },
		"mileage":       func(l *CarListing) { l.Mileage = -5 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			l := validListing()
			mutate(l)
			assert.Equal(t, field, fieldOf(t, l.Validate()))
		})
	}
}

func TestCarListing_BeforeCreate(t *testing.T) {
	l := validListing()
	require.NoError(t, l.BeforeCreate(nil))
	assert.NotEmpty(t, l.ID)
	assert.False(t, l.ScrapedAt.IsZero())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l = validListing()
	l.ID, l.ScrapedAt = "listing-1", at
	require.NoError(t, l.BeforeCreate(nil))
	assert.Equal(t, "listing-1", l.ID)
	assert.Equal(t, at, l.ScrapedAt)
}

func TestSeller_Validate(t *testing.T) {
	s := &Seller{Name: "Sunrise Motors", Type: SellerTypeDealer, Email: strPtr("sales@sunrise.example.com"), Phone: strPtr("+1 (555) 010-0100")}
	require.NoError(t, s.Validate())

	s.Email = strPtr("")
	s.Phone = nil
	require.NoError(t, s.Validate(), "blank optional contact is allowed")

	s.Email = strPtr("sales at sunrise")
	assert.Equal(t, "email", fieldOf(t, s.Validate()))

	s.Email = nil
	s.Phone = strPtr("call me")
	assert.Equal(t, "phone", fieldOf(t, s.Validate()))

	assert.Equal(t, "type", fieldOf(t, (&Seller{Name: "Jane"}).Validate()))
}

func TestCatalogHierarchy_Validate(t *testing.T) {
	assert.Equal(t, "name", fieldOf(t, (&Brand{}).Validate()))
	assert.NoError(t, (&Brand{Name: "Toyota"}).Validate())

	assert.Equal(t, "bodyType", fieldOf(t, (&Model{Name: "Corolla", BrandID: "b"}).Validate()))
	assert.NoError(t, (&Model{Name: "Corolla", BodyType: "sedan", BrandID: "b"}).Validate())

	assert.Equal(t, "year", fieldOf(t, (&Version{VersionName: "E210", ModelID: "m", Year: 1800}).Validate()))
	assert.NoError(t, (&Version{VersionName: "E210", ModelID: "m", Year: 2020}).Validate())

	tr := &Trim{Name: "LE", FuelType: "petrol", TransmissionType: "automatic", VersionID: "v", MotorSize: 1800}
	assert.NoError(t, tr.Validate())
	tr.MotorSize = -1
	assert.Equal(t, "motorSize", fieldOf(t, tr.Validate()))

	assert.Equal(t, "baseUrl", fieldOf(t, (&Source{Name: "AutoPlaza", BaseURL: "autoplaza"}).Validate()))
	assert.NoError(t, (&Source{Name: "AutoPlaza", BaseURL: "https://autoplaza.example.com"}).Validate())

	assert.Equal(t, "url", fieldOf(t, (&Image{ListingID: "l", URL: "/img/1.jpg"}).Validate()))
	assert.NoError(t, (&Image{ListingID: "l", URL: "https://cdn.example.com/img/1.jpg"}).Validate())
}

func TestPriceHistory_BeforeCreate(t *testing.T) {
	p := &PriceHistory{ListingID: "l", Price: decimal.NewFromInt(100), PriceCurrency: "EUR"}
	require.NoError(t, p.BeforeCreate(nil))
	assert.NotEmpty(t, p.ID)
	assert.WithinDuration(t, time.Now(), p.RecordedAt, time.Minute)

	p = &PriceHistory{ListingID: "l", Price: decimal.NewFromInt(100), PriceCurrency: "EURO"}
	assert.Equal(t, "priceCurrency", fieldOf(t, p.BeforeCreate(nil)))
}

func TestListingEvent_BeforeCreate(t *testing.T) {
	e := &ListingEvent{ListingID: "l", EventType: ListingCreated}
	require.NoError(t, e.BeforeCreate(nil))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "{}", string(e.EventData))
}

func TestAll(t *testing.T) {
	all := All()
	require.Len(t, all, 10)
	assert.IsType(t, &Brand{}, all[0])
	assert.IsType(t, &ListingEvent{}, all[len(all)-1])
}
