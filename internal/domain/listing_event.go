package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Listing event types.
const (
	ListingCreated      = "CREATED"
	ListingUpdated      = "UPDATED"
	ListingPriceChanged = "PRICE_CHANGED"
	ListingDeleted      = "DELETED"
)

// ListingEvent is the audit trail of listing writes. ListingID is not a
// foreign key so the trail outlives the listing.
type ListingEvent struct {
	ID        string         `gorm:"column:id;size:64;primaryKey" json:"id"`
	ListingID string         `gorm:"column:listing_id;size:64;not null;index" json:"listingId"`
	EventType string         `gorm:"column:event_type;size:30;not null" json:"eventType"`
	EventData datatypes.JSON `gorm:"column:event_data;not null" json:"eventData"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"createdAt"`
}

func (ListingEvent) TableName() string {
	return "listing_events"
}

func (le *ListingEvent) BeforeCreate(tx *gorm.DB) error {
	if le.ID == "" {
		le.ID = uuid.NewString()
	}
	if len(le.EventData) == 0 {
		le.EventData = datatypes.JSON("{}")
	}
	return nil
}
