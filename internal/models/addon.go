package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AddOnType identifies a purchasable enhancement.
type AddOnType string

const (
	// AddOnTypeElite is the single placement tier. Activating it sets the
	// elite, premium and featured flags on the listing; expiring it clears
	// all three (premium and featured are legacy flags older clients read).
	AddOnTypeElite AddOnType = "elite"
	// AddOnTypeVerifiedBadge toggles only the verified_badge flag.
	AddOnTypeVerifiedBadge AddOnType = "verified_badge"
	// Verification tier purchases are account-bound; they carry no listing
	// flags and instead grant the seller verification tier on payment.
	AddOnTypeTierStandard AddOnType = "tier_standard"
	AddOnTypeTierPremium  AddOnType = "tier_premium"
)

// Listing flag names toggled by add-on activation.
const (
	FlagElite         = "elite"
	FlagPremium       = "premium"
	FlagFeatured      = "featured"
	FlagVerifiedBadge = "verified_badge"
)

// ListingFlags returns the premium_addons keys this add-on type controls.
func (t AddOnType) ListingFlags() []string {
	switch t {
	case AddOnTypeElite:
		return []string{FlagElite, FlagPremium, FlagFeatured}
	case AddOnTypeVerifiedBadge:
		return []string{FlagVerifiedBadge}
	case AddOnTypeTierStandard, AddOnTypeTierPremium:
		return []string{}
	}
	return nil
}

// VerificationTier returns the tier granted by a tier purchase, or empty for
// listing add-ons.
func (t AddOnType) VerificationTier() string {
	switch t {
	case AddOnTypeTierStandard:
		return "standard"
	case AddOnTypeTierPremium:
		return "premium"
	}
	return ""
}

// AddOnStatus is the lifecycle state of a purchase.
type AddOnStatus string

const (
	AddOnStatusPending   AddOnStatus = "pending"
	AddOnStatusActive    AddOnStatus = "active"
	AddOnStatusExpired   AddOnStatus = "expired"
	AddOnStatusCancelled AddOnStatus = "cancelled"
)

// AddOnPurchase records a paid add-on. Created pending at checkout, flipped
// active by the Stripe webhook, expired by the sweep once past ExpiresAt.
type AddOnPurchase struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID          primitive.ObjectID  `bson:"user_id" json:"user_id"`
	ListingID       *primitive.ObjectID `bson:"listing_id,omitempty" json:"listing_id,omitempty"`
	Type            AddOnType           `bson:"type" json:"type"`
	Status          AddOnStatus         `bson:"status" json:"status"`
	StripeSessionID string              `bson:"stripe_session_id,omitempty" json:"-"`
	StripePriceID   string              `bson:"stripe_price_id,omitempty" json:"-"`
	ActivatedAt     *time.Time          `bson:"activated_at,omitempty" json:"activated_at,omitempty"`
	ExpiresAt       *time.Time          `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	ExpiryNotified  bool                `bson:"expiry_notified" json:"-"`
	CreatedAt       time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at" json:"updated_at"`
}
