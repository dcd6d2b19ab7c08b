package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Source is a scraped origin site.
type Source struct {
	ID       string       `gorm:"column:id;size:64;primaryKey" json:"id"`
	BaseURL  string       `gorm:"column:base_url;size:255;not null;uniqueIndex" json:"baseUrl"`
	Name     string       `gorm:"column:name;size:120;not null" json:"name"`
	Listings []CarListing `gorm:"foreignKey:SourceID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"listings,omitempty"`
}

func (Source) TableName() string {
	return "sources"
}

func (Source) UniqueKeys() [][]string {
	return [][]string{{"baseUrl"}}
}

func (s *Source) Validate() error {
	if err := validation.Required("name", s.Name); err != nil {
		return err
	}
	if !validation.IsValidURL(s.BaseURL) {
		return validation.Errorf("baseUrl", "must be an absolute http(s) URL")
	}
	return nil
}

func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s.Validate()
}
