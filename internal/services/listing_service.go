package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/models"
)

// ListingSearchParams carries the public search filters.
type ListingSearchParams struct {
	Category  *models.ListingCategory
	Condition *string
	Status    *models.ListingStatus
	SellerID  *primitive.ObjectID
	Page      int
	Limit     int
}

// IListingService defines the interface for listing operations.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID primitive.ObjectID, title, description string, category models.ListingCategory, condition string, askingPrice *models.AskingPrice) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, sellerID primitive.ObjectID, updates map[string]interface{}) (*models.Listing, error)
	PublishListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error
	MarkSold(ctx context.Context, listingID, sellerID primitive.ObjectID) error
	RemoveListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error
	AdminRemoveListing(ctx context.Context, listingID primitive.ObjectID) error
	SearchListings(ctx context.Context, params ListingSearchParams) ([]models.Listing, int64, error)
	AddPhotoToListing(ctx context.Context, listingID primitive.ObjectID, photoKey string) error
	SetAddOnFlags(ctx context.Context, listingID primitive.ObjectID, flags []string, active bool, expiresAt *time.Time) error
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(database *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: database, cfg: cfg}
}

// CreateListing creates a new listing document in a draft state.
func (s *listingService) CreateListing(ctx context.Context, sellerID primitive.ObjectID, title, description string, category models.ListingCategory, condition string, askingPrice *models.AskingPrice) (*models.Listing, error) {
	now := time.Now().UTC()
	listing := &models.Listing{
		ID:            primitive.NewObjectID(),
		SellerID:      sellerID,
		Title:         title,
		Description:   description,
		Category:      category,
		Condition:     condition,
		AskingPrice:   askingPrice,
		Photos:        []string{},
		Status:        models.ListingStatusDraft,
		PremiumAddOns: models.PremiumAddOns{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := s.db.Collection(listingsCollection).InsertOne(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to insert listing for seller %s: %w", sellerID.Hex(), err)
	}
	return listing, nil
}

// FindListingByID finds a non-deleted listing by its ID. It does NOT check
// ownership; removed listings stay fetchable by their seller via search.
func (s *listingService) FindListingByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID, "deleted": false}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID.Hex(), err)
	}
	return &listing, nil
}

// UpdateListing updates mutable fields of a listing owned by sellerID.
// Status changes go through the dedicated methods, not here.
func (s *listingService) UpdateListing(ctx context.Context, listingID, sellerID primitive.ObjectID, updates map[string]interface{}) (*models.Listing, error) {
	allowed := bson.M{}
	for key, value := range updates {
		switch key {
		case "title", "description", "category", "condition", "asking_price":
			allowed[key] = value
		default:
			return nil, fmt.Errorf("field '%s' cannot be updated via UpdateListing", key)
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no valid fields provided for update")
	}
	allowed["updated_at"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Listing
	err := s.db.Collection(listingsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": listingID, "seller_id": sellerID, "deleted": false},
		bson.M{"$set": allowed}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing not found or not owned by user")
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID.Hex(), err)
	}
	return &updated, nil
}

// setStatus flips a listing's status with an ownership check.
func (s *listingService) setStatus(ctx context.Context, listingID primitive.ObjectID, sellerID *primitive.ObjectID, from []models.ListingStatus, to models.ListingStatus, extra bson.M) error {
	filter := bson.M{"_id": listingID, "deleted": false}
	if sellerID != nil {
		filter["seller_id"] = *sellerID
	}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}

	set := bson.M{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		set[k] = v
	}

	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("db error updating listing %s status: %w", listingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		// Distinguish not-found from a bad state for the caller's message.
		var listing models.Listing
		errCheck := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID, "deleted": false}).Decode(&listing)
		if errors.Is(errCheck, mongo.ErrNoDocuments) {
			return mongo.ErrNoDocuments
		}
		if sellerID != nil && listing.SellerID != *sellerID {
			return fmt.Errorf("listing %s does not belong to user %s", listingID.Hex(), sellerID.Hex())
		}
		return fmt.Errorf("listing %s cannot transition from %s to %s", listingID.Hex(), listing.Status, to)
	}
	return nil
}

// PublishListing publishes a draft listing.
func (s *listingService) PublishListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	now := time.Now().UTC()
	return s.setStatus(ctx, listingID, &sellerID,
		[]models.ListingStatus{models.ListingStatusDraft}, models.ListingStatusPublished,
		bson.M{"published_at": now})
}

// MarkSold marks a published listing as sold.
func (s *listingService) MarkSold(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	return s.setStatus(ctx, listingID, &sellerID,
		[]models.ListingStatus{models.ListingStatusPublished}, models.ListingStatusSold, nil)
}

// RemoveListing lets the owner take a listing down from any state.
func (s *listingService) RemoveListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	return s.setStatus(ctx, listingID, &sellerID, nil, models.ListingStatusRemoved, nil)
}

// AdminRemoveListing removes a listing without an ownership check.
func (s *listingService) AdminRemoveListing(ctx context.Context, listingID primitive.ObjectID) error {
	return s.setStatus(ctx, listingID, nil, nil, models.ListingStatusRemoved, nil)
}

// SearchListings returns a page of listings plus the total match count.
// Without an explicit status filter only published listings are returned.
func (s *listingService) SearchListings(ctx context.Context, params ListingSearchParams) ([]models.Listing, int64, error) {
	filter := bson.M{"deleted": false}
	if params.Status != nil {
		filter["status"] = *params.Status
	} else {
		filter["status"] = models.ListingStatusPublished
	}
	if params.Category != nil {
		filter["category"] = *params.Category
	}
	if params.Condition != nil {
		filter["condition"] = *params.Condition
	}
	if params.SellerID != nil {
		filter["seller_id"] = *params.SellerID
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	collection := s.db.Collection(listingsCollection)
	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "premium_addons.elite.active", Value: -1}, {Key: "published_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search listings: %w", err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, 0, fmt.Errorf("failed to decode listings: %w", err)
	}
	return listings, total, nil
}

// AddPhotoToListing appends a processed photo key to a listing.
func (s *listingService) AddPhotoToListing(ctx context.Context, listingID primitive.ObjectID, photoKey string) error {
	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{
			"$addToSet": bson.M{"photos": photoKey},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("db error adding photo to listing %s: %w", listingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SetAddOnFlags sets or clears the named premium_addons flags on a listing.
// Used by webhook activation (active=true) and the expiration sweep
// (active=false). ExpiresAt is stored alongside the flag when setting.
func (s *listingService) SetAddOnFlags(ctx context.Context, listingID primitive.ObjectID, flags []string, active bool, expiresAt *time.Time) error {
	if len(flags) == 0 {
		return nil
	}
	set := bson.M{"updated_at": time.Now().UTC()}
	for _, flag := range flags {
		set["premium_addons."+flag] = models.AddOnFlag{Active: active, ExpiresAt: expiresAt}
	}

	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("db error setting add-on flags on listing %s: %w", listingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
