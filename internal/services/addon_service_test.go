package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/utils"
)

func setupAddOnTest(t *testing.T, dbName string) (IAddOnService, IListingService, *mongo.Database) {
	db := utils.SetupTestDB(t, dbName, "addon_purchases", "listings")
	cfg := &config.Config{
		AddOnEliteDuration:   30 * 24 * time.Hour,
		AddOnBadgeDuration:   90 * 24 * time.Hour,
		VerificationDuration: 365 * 24 * time.Hour,
		SweepBatchSize:       500,
	}
	listingSvc := NewListingService(db, cfg)
	return NewAddOnService(db, cfg, listingSvc), listingSvc, db
}

func createPublishedListing(t *testing.T, svc IListingService, sellerID primitive.ObjectID) *models.Listing {
	t.Helper()
	ctx := context.Background()
	listing, err := svc.CreateListing(ctx, sellerID, "GE Dash 9", "Runs and pulls.", models.CategoryLocomotives, "used", nil)
	require.NoError(t, err)
	require.NoError(t, svc.PublishListing(ctx, listing.ID, sellerID))
	return listing
}

func TestAddOnService_GrantActivatesListingFlags(t *testing.T) {
	svc, listingSvc, _ := setupAddOnTest(t, "testdb_addon_grant")
	ctx := context.Background()

	sellerID := primitive.NewObjectID()
	listing := createPublishedListing(t, listingSvc, sellerID)

	purchase, err := svc.GrantAddOn(ctx, sellerID, &listing.ID, models.AddOnTypeElite, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AddOnStatusActive, purchase.Status)
	require.NotNil(t, purchase.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *purchase.ExpiresAt, time.Minute)

	// Elite sets all three placement flags.
	updated, err := listingSvc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	for _, flag := range []string{models.FlagElite, models.FlagPremium, models.FlagFeatured} {
		assert.True(t, updated.PremiumAddOns[flag].Active, "flag %s should be active", flag)
		assert.NotNil(t, updated.PremiumAddOns[flag].ExpiresAt)
	}
	assert.False(t, updated.PremiumAddOns[models.FlagVerifiedBadge].Active)
}

func TestAddOnService_UnknownTypeRejected(t *testing.T) {
	svc, _, _ := setupAddOnTest(t, "testdb_addon_unknown")
	ctx := context.Background()

	_, err := svc.CreatePendingPurchase(ctx, primitive.NewObjectID(), nil, models.AddOnType("gold_star"), "", "")
	assert.Error(t, err)
}

func TestAddOnService_SweepExpiresDuePurchases(t *testing.T) {
	svc, listingSvc, _ := setupAddOnTest(t, "testdb_addon_sweep")
	ctx := context.Background()

	sellerID := primitive.NewObjectID()
	listing := createPublishedListing(t, listingSvc, sellerID)

	purchase, err := svc.GrantAddOn(ctx, sellerID, &listing.ID, models.AddOnTypeElite, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	result, err := svc.ExpireDueAddOns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Errors)

	expired, err := svc.FindPurchaseByID(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AddOnStatusExpired, expired.Status)

	// The placement flags are cleared together with the status flip.
	updated, err := listingSvc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	for _, flag := range []string{models.FlagElite, models.FlagPremium, models.FlagFeatured} {
		assert.False(t, updated.PremiumAddOns[flag].Active, "flag %s should be cleared", flag)
	}

	// A second pass finds nothing to do.
	again, err := svc.ExpireDueAddOns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total)
}

func TestAddOnService_SweepSkipsActiveAndPending(t *testing.T) {
	svc, listingSvc, _ := setupAddOnTest(t, "testdb_addon_sweep_skip")
	ctx := context.Background()

	sellerID := primitive.NewObjectID()
	listing := createPublishedListing(t, listingSvc, sellerID)

	// Still within its window.
	active, err := svc.GrantAddOn(ctx, sellerID, &listing.ID, models.AddOnTypeVerifiedBadge, time.Hour)
	require.NoError(t, err)

	// Never paid for.
	pending, err := svc.CreatePendingPurchase(ctx, sellerID, &listing.ID, models.AddOnTypeElite, "", "")
	require.NoError(t, err)

	result, err := svc.ExpireDueAddOns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)

	stillActive, err := svc.FindPurchaseByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AddOnStatusActive, stillActive.Status)

	stillPending, err := svc.FindPurchaseByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AddOnStatusPending, stillPending.Status)
}

func TestAddOnService_SweepToleratesDeletedListing(t *testing.T) {
	svc, listingSvc, db := setupAddOnTest(t, "testdb_addon_sweep_gone")
	ctx := context.Background()

	sellerID := primitive.NewObjectID()
	listing := createPublishedListing(t, listingSvc, sellerID)

	purchase, err := svc.GrantAddOn(ctx, sellerID, &listing.ID, models.AddOnTypeElite, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = db.Collection("listings").DeleteOne(ctx, bson.M{"_id": listing.ID})
	require.NoError(t, err)

	result, err := svc.ExpireDueAddOns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Errors)

	expired, err := svc.FindPurchaseByID(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AddOnStatusExpired, expired.Status)
}

func TestAddOnService_CancelPurchase(t *testing.T) {
	svc, listingSvc, _ := setupAddOnTest(t, "testdb_addon_cancel")
	ctx := context.Background()

	sellerID := primitive.NewObjectID()
	listing := createPublishedListing(t, listingSvc, sellerID)

	purchase, err := svc.GrantAddOn(ctx, sellerID, &listing.ID, models.AddOnTypeVerifiedBadge, time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.CancelPurchase(ctx, purchase.ID))

	cancelled, err := svc.FindPurchaseByID(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AddOnStatusCancelled, cancelled.Status)

	updated, err := listingSvc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.False(t, updated.PremiumAddOns[models.FlagVerifiedBadge].Active)

	// Cancelling twice fails: the purchase already left the cancellable states.
	err = svc.CancelPurchase(ctx, purchase.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestAddOnService_ActivateBySession(t *testing.T) {
	svc, listingSvc, _ := setupAddOnTest(t, "testdb_addon_session")
	ctx := context.Background()

	sellerID := primitive.NewObjectID()
	listing := createPublishedListing(t, listingSvc, sellerID)

	purchase, err := svc.CreatePendingPurchase(ctx, sellerID, &listing.ID, models.AddOnTypeElite, "", "price_123")
	require.NoError(t, err)
	require.NoError(t, svc.AttachStripeSession(ctx, purchase.ID, "cs_test_abc"))

	activated, err := svc.ActivatePurchaseBySession(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, purchase.ID, activated.ID)
	assert.Equal(t, models.AddOnStatusActive, activated.Status)

	// Webhook retries hit an already-activated session.
	_, err = svc.ActivatePurchaseBySession(ctx, "cs_test_abc")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	_, err = svc.ActivatePurchaseBySession(ctx, "cs_never_seen")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestAddOnService_ExpiringSoonAndNotify(t *testing.T) {
	svc, _, _ := setupAddOnTest(t, "testdb_addon_notify")
	ctx := context.Background()

	userID := primitive.NewObjectID()
	soon, err := svc.GrantAddOn(ctx, userID, nil, models.AddOnTypeTierStandard, time.Hour)
	require.NoError(t, err)
	_, err = svc.GrantAddOn(ctx, userID, nil, models.AddOnTypeTierPremium, 48*time.Hour)
	require.NoError(t, err)

	due, err := svc.ExpiringSoon(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, soon.ID, due[0].ID)

	require.NoError(t, svc.MarkExpiryNotified(ctx, soon.ID))

	due, err = svc.ExpiringSoon(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestAddOnService_ListPurchasesForUser(t *testing.T) {
	svc, _, _ := setupAddOnTest(t, "testdb_addon_list")
	ctx := context.Background()

	userID := primitive.NewObjectID()
	otherID := primitive.NewObjectID()

	_, err := svc.GrantAddOn(ctx, userID, nil, models.AddOnTypeTierStandard, time.Hour)
	require.NoError(t, err)
	_, err = svc.GrantAddOn(ctx, userID, nil, models.AddOnTypeTierPremium, time.Hour)
	require.NoError(t, err)
	_, err = svc.GrantAddOn(ctx, otherID, nil, models.AddOnTypeTierStandard, time.Hour)
	require.NoError(t, err)

	purchases, err := svc.ListPurchasesForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, purchases, 2)
	for _, p := range purchases {
		assert.Equal(t, userID, p.UserID)
	}
}
