package domain

import (
	"time"

	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceHistory is one point of a listing's append-only price series.
type PriceHistory struct {
	ID            string          `gorm:"column:id;size:64;primaryKey" json:"id"`
	Price         decimal.Decimal `gorm:"column:price;type:decimal(14,2);not null" json:"price"`
	PriceCurrency string          `gorm:"column:price_currency;size:3;not null" json:"priceCurrency"`
	RecordedAt    time.Time       `gorm:"column:recorded_at;not null;index" json:"recordedAt"`
	ListingID     string          `gorm:"column:listing_id;size:64;not null;index" json:"listingId"`
	Listing       *CarListing     `gorm:"foreignKey:ListingID" json:"listing,omitempty"`
}

func (PriceHistory) TableName() string {
	return "price_history"
}

func (p *PriceHistory) Validate() error {
	if err := validation.Required("listingId", p.ListingID); err != nil {
		return err
	}
	if p.Price.IsNegative() {
		return validation.Errorf("price", "must not be negative")
	}
	if !validation.IsValidCurrency(p.PriceCurrency) {
		return validation.Errorf("priceCurrency", "must be a three letter currency code")
	}
	return nil
}

func (p *PriceHistory) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now().UTC()
	}
	return p.Validate()
}
