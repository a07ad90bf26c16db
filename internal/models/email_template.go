package models

// EmailTemplate holds a notification template keyed by TemplateID and locale.
// Bodies use {{.key}} placeholders substituted at send time.
type EmailTemplate struct {
	TemplateID string `bson:"template_id" json:"template_id"` // e.g. "inquiry_received", "verification_approved", "addon_expiring"
	Locale     string `bson:"locale" json:"locale"`
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}
