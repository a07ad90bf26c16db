package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/models"
)

// ErrPriceNotConfigured is returned when no Stripe price ID is configured
// for the requested product. Its message is safe to show to the user.
var ErrPriceNotConfigured = errors.New("this product is not available for purchase right now")

// CheckoutRequest names what the user wants to buy.
type CheckoutRequest struct {
	Type      models.AddOnType
	ListingID *primitive.ObjectID
}

// IBillingService defines the interface for Stripe checkout and webhook
// processing.
type IBillingService interface {
	CreateCheckoutSession(ctx context.Context, userID primitive.ObjectID, req CheckoutRequest) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type billingService struct {
	cfg            *config.Config
	userService    IUserService
	addOnService   IAddOnService
	listingService IListingService
	emailNotifier  func(ctx context.Context, purchase *models.AddOnPurchase)
}

// NewBillingService creates a new BillingService. emailNotifier is invoked
// after a purchase activates; nil disables notifications.
func NewBillingService(cfg *config.Config, userService IUserService, addOnService IAddOnService, listingService IListingService, emailNotifier func(ctx context.Context, purchase *models.AddOnPurchase)) IBillingService {
	stripe.Key = cfg.StripeSecretKey
	return &billingService{
		cfg:            cfg,
		userService:    userService,
		addOnService:   addOnService,
		listingService: listingService,
		emailNotifier:  emailNotifier,
	}
}

// priceFor maps a product type to its configured Stripe price ID.
func (s *billingService) priceFor(addOnType models.AddOnType) (string, error) {
	var priceID string
	switch addOnType {
	case models.AddOnTypeElite:
		priceID = s.cfg.StripePriceElite
	case models.AddOnTypeVerifiedBadge:
		priceID = s.cfg.StripePriceVerifiedBadge
	case models.AddOnTypeTierStandard:
		priceID = s.cfg.StripePriceTierStandard
	case models.AddOnTypeTierPremium:
		priceID = s.cfg.StripePriceTierPremium
	default:
		return "", fmt.Errorf("unknown product type %q", addOnType)
	}
	if priceID == "" {
		log.Printf("ERROR: no Stripe price configured for product type %q", addOnType)
		return "", ErrPriceNotConfigured
	}
	return priceID, nil
}

// CreateCheckoutSession creates a pending purchase and a hosted Stripe
// Checkout Session for it, returning the session URL the client redirects to.
func (s *billingService) CreateCheckoutSession(ctx context.Context, userID primitive.ObjectID, req CheckoutRequest) (string, error) {
	if req.Type.ListingFlags() == nil {
		return "", fmt.Errorf("unknown product type %q", req.Type)
	}
	if req.Type == models.AddOnTypeElite || req.Type == models.AddOnTypeVerifiedBadge {
		if req.ListingID == nil {
			return "", errors.New("a listing is required for this add-on type")
		}
		listing, err := s.listingService.FindListingByID(ctx, *req.ListingID)
		if err != nil {
			return "", err
		}
		if listing.SellerID != userID {
			return "", errors.New("add-ons can only be purchased for your own listings")
		}
	} else {
		// Tier purchases are account-bound.
		req.ListingID = nil
	}

	priceID, err := s.priceFor(req.Type)
	if err != nil {
		return "", err
	}

	user, err := s.userService.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user for checkout: %w", err)
	}

	customerID, err := s.ensureStripeCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	purchase, err := s.addOnService.CreatePendingPurchase(ctx, userID, req.ListingID, req.Type, "", priceID)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(s.cfg.CheckoutSuccessURL),
		CancelURL:  stripe.String(s.cfg.CheckoutCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Metadata: map[string]string{
			"purchase_id": purchase.ID.Hex(),
			"user_id":     userID.Hex(),
			"type":        string(req.Type),
		},
	}
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	if err := s.addOnService.AttachStripeSession(ctx, purchase.ID, sess.ID); err != nil {
		return "", fmt.Errorf("failed to attach session to purchase %s: %w", purchase.ID.Hex(), err)
	}
	return sess.URL, nil
}

// ensureStripeCustomer returns the user's Stripe customer ID, creating the
// customer on first purchase.
func (s *billingService) ensureStripeCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
		Metadata: map[string]string{
			"user_id": user.ID.Hex(),
		},
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	if err := s.userService.SetStripeCustomerID(ctx, user.ID, cust.ID); err != nil {
		return "", fmt.Errorf("failed to store Stripe customer ID: %w", err)
	}
	return cust.ID, nil
}

// HandleWebhook verifies the event signature and activates entitlements on
// checkout completion. The webhook is the only activation channel; success
// redirects are never trusted.
func (s *billingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.StripeWebhookSecret)
	if err != nil {
		return fmt.Errorf("webhook signature verification failed: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("failed to parse checkout session payload: %w", err)
		}
		return s.handleCheckoutCompleted(ctx, &sess)
	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
		log.Printf("Ignoring Stripe event type %s", event.Type)
		return nil
	}
}

func (s *billingService) handleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	purchase, err := s.addOnService.ActivatePurchaseBySession(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Already activated by a webhook retry, or an unknown session.
			log.Printf("No pending purchase for session %s, skipping", sess.ID)
			return nil
		}
		return err
	}

	if tier := purchase.Type.VerificationTier(); tier != "" {
		until := purchase.ExpiresAt
		if until == nil {
			fallback := time.Now().UTC().Add(s.cfg.VerificationDuration)
			until = &fallback
		}
		if err := s.userService.MirrorVerification(ctx, purchase.UserID, models.VerificationStatusActive, models.VerificationTier(tier), until); err != nil {
			return fmt.Errorf("purchase %s activated but tier grant failed: %w", purchase.ID.Hex(), err)
		}
	}

	if s.emailNotifier != nil {
		s.emailNotifier(ctx, purchase)
	}
	log.Printf("Activated purchase %s (type=%s) for session %s", purchase.ID.Hex(), purchase.Type, sess.ID)
	return nil
}
