package domain

import "time"

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Price      Money  `json:"price"`
	ContentRef string `json:"-"`
}

// ContentPointer is what a successful redemption authorizes: the location
// of one product's deliverable.
type ContentPointer struct {
	ProductID  string
	ContentRef string
	ExpiresAt  time.Time
}
