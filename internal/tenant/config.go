// Package tenant loads per-tenant backend configuration and the persisted
// backend overrides that pin a tenant to one adapter.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"commerce-provider/internal/domain"
)

type ManagedConfig struct {
	ShopDomain      string   `yaml:"shop_domain" json:"shopDomain"`
	AdminToken      string   `yaml:"admin_token" json:"adminToken"`
	StorefrontToken string   `yaml:"storefront_token" json:"storefrontToken"`
	APIVersion      string   `yaml:"api_version" json:"apiVersion"`
	Currency        string   `yaml:"currency" json:"currency"`
	WebhookSecrets  []string `yaml:"webhook_secrets" json:"webhookSecrets"`
	Subscriptions   bool     `yaml:"subscriptions" json:"subscriptions"`
	TimeoutSeconds  int      `yaml:"timeout_seconds" json:"timeoutSeconds"`
	BaseURL         string   `yaml:"base_url" json:"baseUrl"`
}

type ShippingRateConfig struct {
	Handle string `yaml:"handle" json:"handle"`
	Title  string `yaml:"title" json:"title"`
	// Price is a decimal in major units, e.g. "5.00".
	Price    string `yaml:"price" json:"price"`
	Currency string `yaml:"currency" json:"currency"`
}

type SelfHostedConfig struct {
	DatabaseDSN            string               `yaml:"database_dsn" json:"databaseDsn"`
	MaxConns               int32                `yaml:"max_conns" json:"maxConns"`
	DefaultCurrency        string               `yaml:"default_currency" json:"defaultCurrency"`
	StripeSecretKey        string               `yaml:"stripe_secret_key" json:"stripeSecretKey"`
	StripeWebhookSecrets   []string             `yaml:"stripe_webhook_secrets" json:"stripeWebhookSecrets"`
	StripeBaseURL          string               `yaml:"stripe_base_url" json:"stripeBaseUrl"`
	TaxRates               map[string]int64     `yaml:"tax_rates_bps" json:"taxRatesBps"`
	ShippingRates          []ShippingRateConfig `yaml:"shipping_rates" json:"shippingRates"`
	CheckoutTTLSeconds     int                  `yaml:"checkout_ttl_seconds" json:"checkoutTtlSeconds"`
	ProcessingGraceSeconds int                  `yaml:"processing_grace_seconds" json:"processingGraceSeconds"`
}

// Config is one tenant's entry in the directory file.
type Config struct {
	ID string `yaml:"id" json:"id"`
	// Provider pins the tenant to a backend, bypassing flag evaluation.
	Provider     string           `yaml:"provider" json:"provider,omitempty"`
	WebhookToken string           `yaml:"webhook_token" json:"webhookToken,omitempty"`
	Managed      ManagedConfig    `yaml:"managed" json:"managed"`
	SelfHosted   SelfHostedConfig `yaml:"self_hosted" json:"selfHosted"`
}

func (c ManagedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c SelfHostedConfig) CheckoutTTL() time.Duration {
	return time.Duration(c.CheckoutTTLSeconds) * time.Second
}

func (c SelfHostedConfig) ProcessingGrace() time.Duration {
	return time.Duration(c.ProcessingGraceSeconds) * time.Second
}

// Rates parses the configured shipping rates.
func (c SelfHostedConfig) Rates() ([]domain.ShippingRate, error) {
	out := make([]domain.ShippingRate, 0, len(c.ShippingRates))
	for _, r := range c.ShippingRates {
		cur := r.Currency
		if cur == "" {
			cur = c.DefaultCurrency
		}
		price, err := domain.ParseMoney(r.Price, cur)
		if err != nil {
			return nil, fmt.Errorf("shipping rate %s: %w", r.Handle, err)
		}
		out = append(out, domain.ShippingRate{Handle: r.Handle, Title: r.Title, Price: price})
	}
	return out, nil
}

// Hash fingerprints the config together with the selected backend, so a
// change to either yields a new adapter.
func (c Config) Hash(kind string) string {
	raw, _ := json.Marshal(c)
	sum := sha256.New()
	sum.Write(raw)
	sum.Write([]byte{0})
	sum.Write([]byte(kind))
	return hex.EncodeToString(sum.Sum(nil))
}

type file struct {
	Tenants []Config `yaml:"tenants"`
}

// LoadFile reads the YAML tenant directory. Values of the form ${VAR} are
// expanded from the environment.
func LoadFile(path string) ([]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) ([]Config, error) {
	var f file
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}
	seen := map[string]bool{}
	for i, t := range f.Tenants {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, fmt.Errorf("tenants[%d]: id is required", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("tenants[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		switch t.Provider {
		case "", "managed", "self_hosted":
		default:
			return nil, fmt.Errorf("tenant %s: unknown provider %q", t.ID, t.Provider)
		}
		t.Managed.ShopDomain = strings.ToLower(t.Managed.ShopDomain)
		f.Tenants[i] = t
	}
	return f.Tenants, nil
}
