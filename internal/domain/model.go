package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is a brand's model line (Corolla, Ranger, ...).
type Model struct {
	ID       string    `gorm:"column:id;size:64;primaryKey" json:"id"`
	Name     string    `gorm:"column:name;size:120;not null;uniqueIndex:idx_models_brand_name" json:"name"`
	BodyType string    `gorm:"column:body_type;size:40;not null" json:"bodyType"`
	BrandID  string    `gorm:"column:brand_id;size:64;not null;index;uniqueIndex:idx_models_brand_name" json:"brandId"`
	Brand    *Brand    `gorm:"foreignKey:BrandID" json:"brand,omitempty"`
	Versions []Version `gorm:"foreignKey:ModelID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"versions,omitempty"`
}

func (Model) TableName() string {
	return "models"
}

func (Model) UniqueKeys() [][]string {
	return [][]string{{"brandId", "name"}}
}

func (m *Model) Validate() error {
	return validation.First(
		validation.Required("name", m.Name),
		validation.Required("bodyType", m.BodyType),
		validation.Required("brandId", m.BrandID),
	)
}

func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return m.Validate()
}
