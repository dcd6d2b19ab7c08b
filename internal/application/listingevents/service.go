package listingevents

import (
	"context"
	"encoding/json"
	"errors"

	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/database"
	"autolist-backend/internal/infrastructure/repository"

	"gorm.io/datatypes"
)

type Service struct {
	Client *database.Client
}

// Record appends one event for listingID. Call it with the transaction
// client of the write it describes.
func Record(ctx context.Context, tx *database.Client, listingID, eventType string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = tx.ListingEvent.Create(ctx, &domain.ListingEvent{
		ListingID: listingID,
		EventType: eventType,
		EventData: datatypes.JSON(b),
	})
	return err
}

// GetListingEvents returns the events of one listing, oldest first. Events
// survive the listing itself.
func (s *Service) GetListingEvents(ctx context.Context, listingID string) ([]domain.ListingEvent, error) {
	if listingID == "" {
		return nil, &repository.ValidationError{Model: "ListingEvent", Field: "listingId", Err: errors.New("listing id is required")}
	}
	return s.Client.ListingEvent.FindMany(ctx, repository.FindArgs{
		Where:   repository.Where{"listingId": listingID},
		OrderBy: repository.OrderByList{repository.Asc("createdAt")},
	})
}
