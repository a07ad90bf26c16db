package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"railexchange/railx/internal/models"
)

// Built-in templates used when a template is missing from the database.
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"inquiry_received": {
		TemplateID: "inquiry_received",
		Locale:     "en-US",
		Subject:    "New inquiry about your listing",
		Body:       "{{.buyer_name}} sent an inquiry about \"{{.listing_title}}\": {{.message}}",
	},
	"inquiry_reply": {
		TemplateID: "inquiry_reply",
		Locale:     "en-US",
		Subject:    "New reply on your inquiry",
		Body:       "{{.sender_name}} replied on \"{{.listing_title}}\": {{.message}}",
	},
	"verification_approved": {
		TemplateID: "verification_approved",
		Locale:     "en-US",
		Subject:    "Your seller verification was approved",
		Body:       "Your {{.tier}} verification is now active until {{.expires_at}}.",
	},
	"verification_rejected": {
		TemplateID: "verification_rejected",
		Locale:     "en-US",
		Subject:    "Your seller verification was declined",
		Body:       "Your verification request was declined: {{.reason}}. You may resubmit with updated documents.",
	},
	"addon_expiring": {
		TemplateID: "addon_expiring",
		Locale:     "en-US",
		Subject:    "Your listing add-on is about to expire",
		Body:       "The {{.addon_type}} add-on on \"{{.listing_title}}\" expires on {{.expires_at}}.",
	},
	"addon_activated": {
		TemplateID: "addon_activated",
		Locale:     "en-US",
		Subject:    "Your add-on purchase is active",
		Body:       "Your {{.addon_type}} add-on is active until {{.expires_at}}.",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, template *models.EmailTemplate) error
	DeleteTemplate(ctx context.Context, templateID, locale string) error
}

const emailTemplatesCollection = "email_templates"

type emailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new EmailTemplateService.
func NewEmailTemplateService(database *mongo.Database) IEmailTemplateService {
	return &emailTemplateService{db: database}
}

// GetTemplate retrieves a template by ID and locale, falling back to the
// built-in defaults when no DB override exists.
func (s *emailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	filter := bson.M{"template_id": templateID, "locale": locale}

	var template models.EmailTemplate
	err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}
	return &template, nil
}

// SaveTemplate upserts a template override.
func (s *emailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	filter := bson.M{"template_id": template.TemplateID, "locale": template.Locale}
	opts := options.Update().SetUpsert(true)

	_, err := s.db.Collection(emailTemplatesCollection).UpdateOne(ctx, filter, bson.M{"$set": template}, opts)
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// DeleteTemplate removes a DB override, restoring the built-in default.
func (s *emailTemplateService) DeleteTemplate(ctx context.Context, templateID, locale string) error {
	filter := bson.M{"template_id": templateID, "locale": locale}
	_, err := s.db.Collection(emailTemplatesCollection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}
