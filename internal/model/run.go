package model

import "time"

// Run is one uploaded menu document and the pipeline state built from it.
type Run struct {
	ID             string    `json:"id"`
	RestaurantName string    `json:"restaurant_name"`
	PageCount      int       `json:"page_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RunFilter controls run listing.
type RunFilter struct {
	RestaurantName string `json:"restaurant_name,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}
