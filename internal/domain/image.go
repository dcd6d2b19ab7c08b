package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Image struct {
	ID        string      `gorm:"column:id;size:64;primaryKey" json:"id"`
	ListingID string      `gorm:"column:listing_id;size:64;not null;index" json:"listingId"`
	URL       string      `gorm:"column:url;size:512;not null" json:"url"`
	Listing   *CarListing `gorm:"foreignKey:ListingID" json:"listing,omitempty"`
}

func (Image) TableName() string {
	return "images"
}

func (i *Image) Validate() error {
	if err := validation.Required("listingId", i.ListingID); err != nil {
		return err
	}
	if !validation.IsValidURL(i.URL) {
		return validation.Errorf("url", "must be an absolute http(s) URL")
	}
	return nil
}

// BeforeCreate also runs for images created through a listing's Images slice,
// where ListingID is only filled in by gorm after the parent insert.
func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return i.Validate()
}
