package domain

import "time"

// ClientTier controls the per-minute request budget (see RateLimitTiers
// in config.go), independent of the product Tier in config.go which
// selects storage backends.
type ClientTier string

const (
	ClientTierBronze ClientTier = "bronze"
	ClientTierSilver ClientTier = "silver"
	ClientTierGold   ClientTier = "gold"
)

// Vertical is the industry label that selects a decision threshold and
// rule-weight profile.
type Vertical string

const (
	VerticalLending     Vertical = "lending"
	VerticalFintech      Vertical = "fintech"
	VerticalPayments     Vertical = "payments"
	VerticalCrypto       Vertical = "crypto"
	VerticalEcommerce    Vertical = "ecommerce"
	VerticalBetting      Vertical = "betting"
	VerticalGaming       Vertical = "gaming"
	VerticalMarketplace  Vertical = "marketplace"
)

// AllVerticals enumerates every supported vertical, used by
// GET /api/v1/verticals and by startup validation.
var AllVerticals = []Vertical{
	VerticalLending, VerticalFintech, VerticalPayments, VerticalCrypto,
	VerticalEcommerce, VerticalBetting, VerticalGaming, VerticalMarketplace,
}

// Client is a tenant of the scoring service. Identity is immutable after
// creation except Tier, threshold overrides, and webhook fields.
type Client struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	APIKeyDigest         string     `json:"-"`
	Tier                 ClientTier `json:"tier"`
	Vertical             Vertical   `json:"vertical"`
	ThresholdOverride    *int       `json:"thresholdOverride,omitempty"`
	WebhookURL           string     `json:"webhookUrl,omitempty"`
	WebhookSigningSecret string     `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
}
