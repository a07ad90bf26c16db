package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"railexchange/railx/internal/config"
)

// RedisSender stores emails in Redis instead of sending them. Integration
// tests retrieve them through the service API's getTestEmail method.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{client: client, cfg: cfg}
}

// notificationType guesses the notification kind from the subject so mock
// emails can be looked up per (recipient, kind).
func notificationType(subject string) string {
	switch {
	case strings.Contains(subject, "reply"):
		return "inquiry_reply"
	case strings.Contains(subject, "inquiry"):
		return "inquiry_received"
	case strings.Contains(subject, "approved"):
		return "verification_approved"
	case strings.Contains(subject, "declined"):
		return "verification_rejected"
	case strings.Contains(subject, "expire"):
		return "addon_expiring"
	case strings.Contains(subject, "active"):
		return "addon_activated"
	}
	return "unknown"
}

// Send stores a JSON representation of the email in Redis under a key derived
// from the first recipient and the notification type.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}
	kind := notificationType(subject)

	emailData := map[string]interface{}{
		"to":      strings.Join(to, ", "),
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"body":    string(rawMessage),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
		"kind":    kind,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, kind)
	ttl := 5 * time.Minute
	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (To: %s, Subject: %s)", key, strings.Join(to, ", "), subject)
	return nil
}
