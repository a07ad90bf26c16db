package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ListingStatus is the publication state of a listing.
type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusPublished ListingStatus = "published"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusRemoved   ListingStatus = "removed"
)

// ListingCategory buckets rail-industry inventory.
type ListingCategory string

const (
	CategoryLocomotives    ListingCategory = "locomotives"
	CategoryRollingStock   ListingCategory = "rolling_stock"
	CategoryTrackMaterials ListingCategory = "track_materials"
	CategorySignaling      ListingCategory = "signaling"
	CategoryMOWEquipment   ListingCategory = "mow_equipment"
	CategoryParts          ListingCategory = "parts"
	CategoryServices       ListingCategory = "services"
)

// Valid reports whether the category is one of the known buckets.
func (c ListingCategory) Valid() bool {
	switch c {
	case CategoryLocomotives, CategoryRollingStock, CategoryTrackMaterials,
		CategorySignaling, CategoryMOWEquipment, CategoryParts, CategoryServices:
		return true
	}
	return false
}

// AskingPrice defines the structure for monetary values.
type AskingPrice struct {
	Value        float64 `bson:"value" json:"value"`
	CurrencyCode string  `bson:"currency_code" json:"currency_code"`
}

// AddOnFlag is one independently togglable premium effect on a listing.
// Active and ExpiresAt are reconciled against addon_purchases by the
// expiration sweep; they can briefly disagree between sweep passes.
type AddOnFlag struct {
	Active    bool       `bson:"active" json:"active"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// PremiumAddOns is the embedded map of add-on flags on a listing, keyed by
// flag name ("elite", "premium", "featured", "verified_badge").
type PremiumAddOns map[string]AddOnFlag

// Listing is a seller-owned item or service offered on the exchange.
type Listing struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	SellerID      primitive.ObjectID `bson:"seller_id" json:"seller_id"`
	Title         string             `bson:"title" json:"title"`
	Description   string             `bson:"description" json:"description"`
	Category      ListingCategory    `bson:"category" json:"category"`
	Condition     string             `bson:"condition,omitempty" json:"condition,omitempty"` // e.g. "new", "refurbished", "as_is"
	AskingPrice   *AskingPrice       `bson:"asking_price,omitempty" json:"asking_price,omitempty"`
	Photos        []string           `bson:"photos" json:"photos"` // S3 keys
	Status        ListingStatus      `bson:"status" json:"status"`
	PremiumAddOns PremiumAddOns      `bson:"premium_addons,omitempty" json:"premium_addons,omitempty"`
	PublishedAt   *time.Time         `bson:"published_at,omitempty" json:"published_at,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted       bool               `bson:"deleted" json:"-"`
}
