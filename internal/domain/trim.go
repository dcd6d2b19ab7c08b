package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trim is the purchasable configuration of a version (engine, fuel, gearbox).
// MotorSize is the displacement in cubic centimetres.
type Trim struct {
	ID               string       `gorm:"column:id;size:64;primaryKey" json:"id"`
	Name             string       `gorm:"column:name;size:120;not null" json:"name"`
	MotorSize        int          `gorm:"column:motor_size;not null" json:"motorSize"`
	FuelType         string       `gorm:"column:fuel_type;size:40;not null;index" json:"fuelType"`
	TransmissionType string       `gorm:"column:transmission_type;size:40;not null" json:"transmissionType"`
	VersionID        string       `gorm:"column:version_id;size:64;not null;index" json:"versionId"`
	Version          *Version     `gorm:"foreignKey:VersionID" json:"version,omitempty"`
	Listings         []CarListing `gorm:"foreignKey:TrimID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"listings,omitempty"`
}

func (Trim) TableName() string {
	return "trims"
}

func (t *Trim) Validate() error {
	if err := validation.First(
		validation.Required("name", t.Name),
		validation.Required("fuelType", t.FuelType),
		validation.Required("transmissionType", t.TransmissionType),
		validation.Required("versionId", t.VersionID),
	); err != nil {
		return err
	}
	if t.MotorSize < 0 {
		return validation.Errorf("motorSize", "must not be negative")
	}
	return nil
}

func (t *Trim) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return t.Validate()
}
