package domain

import (
	"time"

	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CarListing is the central fact table: one scraped advert for one trim.
type CarListing struct {
	ID            string          `gorm:"column:id;size:64;primaryKey" json:"id"`
	SellerID      string          `gorm:"column:seller_id;size:64;not null;index" json:"sellerId"`
	SourceID      string          `gorm:"column:source_id;size:64;not null;index" json:"sourceId"`
	TrimID        string          `gorm:"column:trim_id;size:64;not null;index" json:"trimId"`
	URL           string          `gorm:"column:url;size:512;not null;uniqueIndex" json:"url"`
	Title         string          `gorm:"column:title;size:255;not null" json:"title"`
	Description   *string         `gorm:"column:description;type:text" json:"description"`
	Price         decimal.Decimal `gorm:"column:price;type:decimal(14,2);not null;index" json:"price"`
	PriceCurrency string          `gorm:"column:price_currency;size:3;not null" json:"priceCurrency"`
	Year          int             `gorm:"column:year;not null;index" json:"year"`
	Mileage       int             `gorm:"column:mileage;not null" json:"mileage"`
	ExteriorColor string          `gorm:"column:exterior_color;size:60;not null;default:''" json:"exteriorColor"`
	InteriorColor string          `gorm:"column:interior_color;size:60;not null;default:''" json:"interiorColor"`
	IsNew         bool            `gorm:"column:is_new;not null;default:false" json:"isNew"`
	Location      string          `gorm:"column:location;size:160;not null;default:''" json:"location"`
	PublishedAt   *time.Time      `gorm:"column:published_at" json:"publishedAt"`
	ScrapedAt     time.Time       `gorm:"column:scraped_at;not null;index" json:"scrapedAt"`

	Seller       *Seller        `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	Source       *Source        `gorm:"foreignKey:SourceID" json:"source,omitempty"`
	Trim         *Trim          `gorm:"foreignKey:TrimID" json:"trim,omitempty"`
	Images       []Image        `gorm:"foreignKey:ListingID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"images,omitempty"`
	PriceHistory []PriceHistory `gorm:"foreignKey:ListingID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"priceHistory,omitempty"`
}

func (CarListing) TableName() string {
	return "car_listings"
}

func (CarListing) UniqueKeys() [][]string {
	return [][]string{{"url"}}
}

func (l *CarListing) Validate() error {
	if err := validation.First(
		validation.Required("sellerId", l.SellerID),
		validation.Required("sourceId", l.SourceID),
		validation.Required("trimId", l.TrimID),
		validation.Required("title", l.Title),
	); err != nil {
		return err
	}
	if !validation.IsValidURL(l.URL) {
		return validation.Errorf("url", "must be an absolute http(s) URL")
	}
	if l.Price.IsNegative() {
		return validation.Errorf("price", "must not be negative")
	}
	if !validation.IsValidCurrency(l.PriceCurrency) {
		return validation.Errorf("priceCurrency", "must be a three letter currency code")
	}
	if l.Year < MinModelYear {
		return validation.Errorf("year", "must be %d or later", MinModelYear)
	}
	if l.Mileage < 0 {
		return validation.Errorf("mileage", "must not be negative")
	}
	return nil
}

func (l *CarListing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.ScrapedAt.IsZero() {
		l.ScrapedAt = time.Now().UTC()
	}
	return l.Validate()
}
