package domain

import (
	"autolist-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Seller types seen on the scraped sites.
const (
	SellerTypeDealer     = "dealer"
	SellerTypePrivate    = "private"
	SellerTypeManagement = "management"
)

type Seller struct {
	ID       string       `gorm:"column:id;size:64;primaryKey" json:"id"`
	Name     string       `gorm:"column:name;size:160;not null" json:"name"`
	Email    *string      `gorm:"column:email;size:160" json:"email"`
	Phone    *string      `gorm:"column:phone;size:40" json:"phone"`
	Type     string       `gorm:"column:type;size:20;not null;index" json:"type"`
	Listings []CarListing `gorm:"foreignKey:SellerID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"listings,omitempty"`
}

func (Seller) TableName() string {
	return "sellers"
}

func (s *Seller) Validate() error {
	if err := validation.First(
		validation.Required("name", s.Name),
		validation.Required("type", s.Type),
	); err != nil {
		return err
	}
	if s.Email != nil && *s.Email != "" && !validation.IsValidEmail(*s.Email) {
		return validation.Errorf("email", "is not a valid email address")
	}
	if s.Phone != nil && *s.Phone != "" && !validation.IsValidPhone(*s.Phone) {
		return validation.Errorf("phone", "is not a valid phone number")
	}
	return nil
}

func (s *Seller) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s.Validate()
}
