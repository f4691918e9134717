package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// File is an uploaded asset as seen by the payment core.
type File struct {
	ID         string          `json:"id"`
	CreatorRef string          `json:"creator_ref"`
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	IsPublic   bool            `json:"is_public"`
	StorageKey string          `json:"-"`
	PreviewKey string          `json:"preview_key,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (f *File) Paid() bool {
	return f.Price.IsPositive()
}
