package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/models"
)

// SweepResult reports the outcome of one expiration sweep pass.
type SweepResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

// IAddOnService defines the interface for add-on purchase operations.
type IAddOnService interface {
	CreatePendingPurchase(ctx context.Context, userID primitive.ObjectID, listingID *primitive.ObjectID, addOnType models.AddOnType, stripeSessionID, stripePriceID string) (*models.AddOnPurchase, error)
	AttachStripeSession(ctx context.Context, purchaseID primitive.ObjectID, stripeSessionID string) error
	ActivatePurchaseBySession(ctx context.Context, stripeSessionID string) (*models.AddOnPurchase, error)
	GrantAddOn(ctx context.Context, userID primitive.ObjectID, listingID *primitive.ObjectID, addOnType models.AddOnType, duration time.Duration) (*models.AddOnPurchase, error)
	CancelPurchase(ctx context.Context, purchaseID primitive.ObjectID) error
	FindPurchaseByID(ctx context.Context, purchaseID primitive.ObjectID) (*models.AddOnPurchase, error)
	ListPurchasesForUser(ctx context.Context, userID primitive.ObjectID) ([]models.AddOnPurchase, error)
	ExpireDueAddOns(ctx context.Context) (*SweepResult, error)
	ExpiringSoon(ctx context.Context, within time.Duration) ([]models.AddOnPurchase, error)
	MarkExpiryNotified(ctx context.Context, purchaseID primitive.ObjectID) error
}

const addOnPurchasesCollection = "addon_purchases"

// addOnService implements IAddOnService.
type addOnService struct {
	db             *mongo.Database
	cfg            *config.Config
	listingService IListingService
}

// NewAddOnService creates a new AddOnService.
func NewAddOnService(database *mongo.Database, cfg *config.Config, listingService IListingService) IAddOnService {
	return &addOnService{db: database, cfg: cfg, listingService: listingService}
}

// durationFor returns the configured lifetime for an add-on type.
func (s *addOnService) durationFor(addOnType models.AddOnType) time.Duration {
	switch addOnType {
	case models.AddOnTypeVerifiedBadge:
		return s.cfg.AddOnBadgeDuration
	case models.AddOnTypeTierStandard, models.AddOnTypeTierPremium:
		return s.cfg.VerificationDuration
	}
	return s.cfg.AddOnEliteDuration
}

// CreatePendingPurchase records a purchase awaiting payment confirmation.
func (s *addOnService) CreatePendingPurchase(ctx context.Context, userID primitive.ObjectID, listingID *primitive.ObjectID, addOnType models.AddOnType, stripeSessionID, stripePriceID string) (*models.AddOnPurchase, error) {
	if addOnType.ListingFlags() == nil {
		return nil, fmt.Errorf("unknown add-on type %q", addOnType)
	}

	now := time.Now().UTC()
	purchase := &models.AddOnPurchase{
		ID:              primitive.NewObjectID(),
		UserID:          userID,
		ListingID:       listingID,
		Type:            addOnType,
		Status:          models.AddOnStatusPending,
		StripeSessionID: stripeSessionID,
		StripePriceID:   stripePriceID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := s.db.Collection(addOnPurchasesCollection).InsertOne(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to insert add-on purchase: %w", err)
	}
	return purchase, nil
}

// AttachStripeSession links a checkout session to its pending purchase.
func (s *addOnService) AttachStripeSession(ctx context.Context, purchaseID primitive.ObjectID, stripeSessionID string) error {
	result, err := s.db.Collection(addOnPurchasesCollection).UpdateOne(ctx,
		bson.M{"_id": purchaseID, "status": models.AddOnStatusPending},
		bson.M{"$set": bson.M{"stripe_session_id": stripeSessionID, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to attach session to purchase %s: %w", purchaseID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ActivatePurchaseBySession flips a pending purchase to active on webhook
// confirmation and sets the effect flags on the bound listing.
func (s *addOnService) ActivatePurchaseBySession(ctx context.Context, stripeSessionID string) (*models.AddOnPurchase, error) {
	now := time.Now().UTC()

	var purchase models.AddOnPurchase
	err := s.db.Collection(addOnPurchasesCollection).FindOne(ctx,
		bson.M{"stripe_session_id": stripeSessionID, "status": models.AddOnStatusPending}).Decode(&purchase)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding purchase for session %s: %w", stripeSessionID, err)
	}

	expiresAt := now.Add(s.durationFor(purchase.Type))
	return s.activate(ctx, &purchase, now, expiresAt)
}

// GrantAddOn creates an immediately-active purchase (admin override path).
func (s *addOnService) GrantAddOn(ctx context.Context, userID primitive.ObjectID, listingID *primitive.ObjectID, addOnType models.AddOnType, duration time.Duration) (*models.AddOnPurchase, error) {
	purchase, err := s.CreatePendingPurchase(ctx, userID, listingID, addOnType, "", "")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if duration <= 0 {
		duration = s.durationFor(addOnType)
	}
	return s.activate(ctx, purchase, now, now.Add(duration))
}

func (s *addOnService) activate(ctx context.Context, purchase *models.AddOnPurchase, now, expiresAt time.Time) (*models.AddOnPurchase, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.AddOnPurchase
	err := s.db.Collection(addOnPurchasesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": purchase.ID, "status": models.AddOnStatusPending},
		bson.M{"$set": bson.M{
			"status":       models.AddOnStatusActive,
			"activated_at": now,
			"expires_at":   expiresAt,
			"updated_at":   now,
		}}, opts).Decode(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to activate purchase %s: %w", purchase.ID.Hex(), err)
	}

	if updated.ListingID != nil {
		if err := s.listingService.SetAddOnFlags(ctx, *updated.ListingID, updated.Type.ListingFlags(), true, &expiresAt); err != nil {
			// Purchase is active but the listing flag is stale; the next
			// sweep pass cannot fix a missing set, so surface it.
			return nil, fmt.Errorf("purchase %s activated but listing flag update failed: %w", updated.ID.Hex(), err)
		}
	}
	return &updated, nil
}

// CancelPurchase cancels a pending or active purchase and retracts its
// listing effect.
func (s *addOnService) CancelPurchase(ctx context.Context, purchaseID primitive.ObjectID) error {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var cancelled models.AddOnPurchase
	err := s.db.Collection(addOnPurchasesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": purchaseID, "status": bson.M{"$in": []models.AddOnStatus{models.AddOnStatusPending, models.AddOnStatusActive}}},
		bson.M{"$set": bson.M{"status": models.AddOnStatusCancelled, "updated_at": time.Now().UTC()}},
		opts).Decode(&cancelled)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mongo.ErrNoDocuments
		}
		return fmt.Errorf("failed to cancel purchase %s: %w", purchaseID.Hex(), err)
	}

	if cancelled.ListingID != nil {
		if err := s.listingService.SetAddOnFlags(ctx, *cancelled.ListingID, cancelled.Type.ListingFlags(), false, nil); err != nil {
			return fmt.Errorf("purchase %s cancelled but listing flag update failed: %w", purchaseID.Hex(), err)
		}
	}
	return nil
}

// FindPurchaseByID fetches one purchase.
func (s *addOnService) FindPurchaseByID(ctx context.Context, purchaseID primitive.ObjectID) (*models.AddOnPurchase, error) {
	var purchase models.AddOnPurchase
	err := s.db.Collection(addOnPurchasesCollection).FindOne(ctx, bson.M{"_id": purchaseID}).Decode(&purchase)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding purchase %s: %w", purchaseID.Hex(), err)
	}
	return &purchase, nil
}

// ListPurchasesForUser returns a user's purchases, newest first.
func (s *addOnService) ListPurchasesForUser(ctx context.Context, userID primitive.ObjectID) ([]models.AddOnPurchase, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(addOnPurchasesCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer cursor.Close(ctx)

	var purchases []models.AddOnPurchase
	if err = cursor.All(ctx, &purchases); err != nil {
		return nil, fmt.Errorf("failed to decode purchases: %w", err)
	}
	return purchases, nil
}

// ExpireDueAddOns is the expiration sweep. For every active purchase past its
// expiry it sets status=expired, then clears the effect flags on the bound
// listing per the type's flag mapping. Per-record failures are counted, not
// fatal. The two-step update is not atomic: a crash between the status flip
// and the flag clear leaves a stale flag until the next pass picks it up
// through the listing-side expiry check. Repeated invocation is safe because
// already-expired records no longer match the filter.
func (s *addOnService) ExpireDueAddOns(ctx context.Context) (*SweepResult, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":     models.AddOnStatusActive,
		"expires_at": bson.M{"$lt": now},
	}

	opts := options.Find().SetLimit(int64(s.cfg.SweepBatchSize))
	cursor, err := s.db.Collection(addOnPurchasesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query due add-on purchases: %w", err)
	}
	defer cursor.Close(ctx)

	var due []models.AddOnPurchase
	if err = cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("failed to decode due add-on purchases: %w", err)
	}

	result := &SweepResult{Total: len(due)}
	for _, purchase := range due {
		if err := s.expireOne(ctx, &purchase, now); err != nil {
			log.Printf("Error expiring add-on purchase %s: %v", purchase.ID.Hex(), err)
			result.Errors++
			continue
		}
		result.Processed++
	}

	if result.Total > 0 {
		log.Printf("Add-on sweep finished: processed=%d errors=%d total=%d", result.Processed, result.Errors, result.Total)
	}
	return result, nil
}

// ExpiringSoon returns active purchases that expire within the window and
// have not been notified yet.
func (s *addOnService) ExpiringSoon(ctx context.Context, within time.Duration) ([]models.AddOnPurchase, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":          models.AddOnStatusActive,
		"expiry_notified": false,
		"expires_at":      bson.M{"$gt": now, "$lt": now.Add(within)},
	}

	opts := options.Find().SetLimit(int64(s.cfg.SweepBatchSize))
	cursor, err := s.db.Collection(addOnPurchasesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring purchases: %w", err)
	}
	defer cursor.Close(ctx)

	var purchases []models.AddOnPurchase
	if err = cursor.All(ctx, &purchases); err != nil {
		return nil, fmt.Errorf("failed to decode expiring purchases: %w", err)
	}
	return purchases, nil
}

// MarkExpiryNotified records that the expiry warning for a purchase went out.
func (s *addOnService) MarkExpiryNotified(ctx context.Context, purchaseID primitive.ObjectID) error {
	_, err := s.db.Collection(addOnPurchasesCollection).UpdateOne(ctx,
		bson.M{"_id": purchaseID},
		bson.M{"$set": bson.M{"expiry_notified": true, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to mark purchase %s notified: %w", purchaseID.Hex(), err)
	}
	return nil
}

func (s *addOnService) expireOne(ctx context.Context, purchase *models.AddOnPurchase, now time.Time) error {
	// Status check in the filter makes the flip idempotent under concurrent
	// sweeps: only one invocation wins the transition.
	result, err := s.db.Collection(addOnPurchasesCollection).UpdateOne(ctx,
		bson.M{"_id": purchase.ID, "status": models.AddOnStatusActive},
		bson.M{"$set": bson.M{"status": models.AddOnStatusExpired, "updated_at": now}})
	if err != nil {
		return fmt.Errorf("db error expiring purchase: %w", err)
	}
	if result.MatchedCount == 0 {
		// Another invocation already flipped it; nothing more to do here.
		return nil
	}

	if purchase.ListingID != nil {
		if err := s.listingService.SetAddOnFlags(ctx, *purchase.ListingID, purchase.Type.ListingFlags(), false, nil); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// Listing was deleted out from under the purchase; the flag
				// no longer exists to clear.
				return nil
			}
			return fmt.Errorf("failed to clear listing flags: %w", err)
		}
	}
	return nil
}
