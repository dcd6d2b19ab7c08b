package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Brand is the top of the catalog hierarchy (Toyota, Ford, ...).
type Brand struct {
	ID     string  `gorm:"column:id;size:64;primaryKey" json:"id"`
	Name   string  `gorm:"column:name;size:120;not null;uniqueIndex" json:"name"`
	Models []Model `gorm:"foreignKey:BrandID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"models,omitempty"`
}

func (Brand) TableName() string {
	return "brands"
}

func (Brand) UniqueKeys() [][]string {
	return [][]string{{"name"}}
}

func (b *Brand) Validate() error {
	return validation.Required("name", b.Name)
}

// BeforeCreate sets id if not already set and validates the row.
func (b *Brand) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return b.Validate()
}
