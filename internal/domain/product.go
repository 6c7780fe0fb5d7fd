package domain

import "time"

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	Quantity   int       `json:"quantity"`
	OutOfStock bool      `json:"out_of_stock"`
	UpdatedAt  time.Time `json:"updated_at"`
}
