package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Oldest model year accepted; anything earlier is treated as a scrape error.
const MinModelYear = 1886

// Version is a model generation for a given year.
type Version struct {
	ID          string `gorm:"column:id;size:64;primaryKey" json:"id"`
	VersionName string `gorm:"column:version_name;size:120;not null" json:"versionName"`
	Year        int    `gorm:"column:year;not null;index" json:"year"`
	ModelID     string `gorm:"column:model_id;size:64;not null;index" json:"modelId"`
	Model       *Model `gorm:"foreignKey:ModelID" json:"model,omitempty"`
	Trims       []Trim `gorm:"foreignKey:VersionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"trims,omitempty"`
}

func (Version) TableName() string {
	return "versions"
}

func (v *Version) Validate() error {
	if err := validation.First(
		validation.Required("versionName", v.VersionName),
		validation.Required("modelId", v.ModelID),
	); err != nil {
		return err
	}
	if v.Year < MinModelYear {
		return validation.Errorf("year", "must be %d or later", MinModelYear)
	}
	return nil
}

func (v *Version) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return v.Validate()
}
