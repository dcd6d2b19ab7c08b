package domain

// All returns one zero value per table, parents before children.
func All() []interface{} {
	return []interface{}{
		&Brand{},
		&Model{},
		&Version{},
		&Trim{},
		&Source{},
		&Seller{},
		&CarListing{},
		&Image{},
		&PriceHistory{},
		&ListingEvent{},
	}
}
