package domain

import "time"

type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductDraft    ProductStatus = "draft"
	ProductArchived ProductStatus = "archived"
)

type Product struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"-"`
	ExternalID  string        `json:"externalId,omitempty"`
	Handle      string        `json:"handle"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Vendor      string        `json:"vendor,omitempty"`
	Status      ProductStatus `json:"status"`
	Tags        []string      `json:"tags,omitempty"`
	Variants    []Variant     `json:"variants"`
	// Stale is set when the product was served from the last-known-good cache.
	Stale     bool      `json:"stale,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Variant struct {
	ID                string `json:"id"`
	ProductID         string `json:"productId"`
	ExternalID        string `json:"externalId,omitempty"`
	SKU               string `json:"sku"`
	Title             string `json:"title"`
	Price             Money  `json:"price"`
	CompareAtPrice    *Money `json:"compareAtPrice,omitempty"`
	InventoryQuantity int    `json:"inventoryQuantity"`
	Position          int    `json:"position"`
}

// FindVariant returns the variant with the given id.
func (p *Product) FindVariant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Page is one page of a cursor-paginated listing. An empty NextCursor
// means the listing is exhausted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListOptions selects one page of a listing. UpdatedSince restricts the
// listing to records modified at or after the given time.
type ListOptions struct {
	Cursor       string     `json:"cursor,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	UpdatedSince *time.Time `json:"updatedSince,omitempty"`
}

// PageLimit clamps Limit into [1, max], defaulting to def.
func (o ListOptions) PageLimit(def, max int) int {
	switch {
	case o.Limit <= 0:
		return def
	case o.Limit > max:
		return max
	}
	return o.Limit
}
