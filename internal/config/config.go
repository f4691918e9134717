// Package config builds the immutable process configuration from the
// environment. It is read once in main and injected into every component.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/markjakearzadon/assetvault-gobackend/internal/commission"
)

type Environment string

const (
	EnvSandbox Environment = "sandbox"
	EnvLive    Environment = "live"
)

type Config struct {
	Port     string
	MongoURI string
	MongoDB  string
	Env      Environment

	CommissionRate decimal.Decimal
	Currency       string

	Gateway        string
	GatewayTimeout time.Duration
	PublicBaseURL  string

	Xendit struct {
		SecretKey    string
		BaseURL      string
		WebhookToken string
	}
	PayPal struct {
		ClientID     string
		ClientSecret string
		WebhookID    string
	}
	WebhookSigningSecret string
	WebhookRateRPS       float64
	WebhookRateBurst     int
	// TrustedProxies are the reverse proxies whose X-Forwarded-For header
	// identifies the client for rate limiting.
	TrustedProxies []netip.Prefix

	JWTSecret string
	JWTTTL    time.Duration

	PendingTTL    time.Duration
	SweepInterval time.Duration

	AWS struct {
		Region          string
		AccessKeyID     string
		SecretAccessKey string
	}
	S3Bucket       string
	DownloadURLTTL time.Duration
	PayoutQueueURL string
}

// Lookup resolves a single variable; os.LookupEnv in production.
type Lookup func(key string) (string, bool)

func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

func LoadFrom(lookup Lookup) (*Config, error) {
	l := loader{lookup: lookup}
	cfg := &Config{
		Port:          l.str("PORT", "8080"),
		MongoURI:      l.str("MONGOURI", ""),
		MongoDB:       l.str("MONGO_DB", "assetvault"),
		Env:           Environment(strings.ToLower(l.str("APP_ENV", string(EnvSandbox)))),
		Currency:      strings.ToUpper(l.str("CURRENCY", "INR")),
		Gateway:       strings.ToLower(l.str("GATEWAY_PROVIDER", "xendit")),
		PublicBaseURL: strings.TrimRight(l.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		GatewayTimeout:       l.duration("GATEWAY_TIMEOUT", 10*time.Second),
		WebhookSigningSecret: l.str("WEBHOOK_SIGNING_SECRET", ""),
		WebhookRateRPS:       l.float("WEBHOOK_RATE_RPS", 20),
		WebhookRateBurst:     l.int("WEBHOOK_RATE_BURST", 40),

		JWTSecret: l.str("JWT_SECRET", ""),
		JWTTTL:    l.duration("JWT_TTL", 24*time.Hour),

		PendingTTL:    l.duration("PENDING_TTL", 48*time.Hour),
		SweepInterval: l.duration("SWEEP_INTERVAL", 10*time.Minute),

		S3Bucket:       l.str("S3_BUCKET", ""),
		DownloadURLTTL: l.duration("DOWNLOAD_URL_TTL", 15*time.Minute),
		PayoutQueueURL: l.str("PAYOUT_QUEUE_URL", ""),
	}
	cfg.Xendit.SecretKey = l.str("XENDIT_SECRET_KEY", "")
	cfg.Xendit.BaseURL = strings.TrimRight(l.str("XENDIT_BASE_URL", "https://api.xendit.co"), "/")
	cfg.Xendit.WebhookToken = l.str("XENDIT_WEBHOOK_TOKEN", "")
	cfg.PayPal.ClientID = l.str("PAYPAL_CLIENT_ID", "")
	cfg.PayPal.ClientSecret = l.str("PAYPAL_CLIENT_SECRET", "")
	cfg.PayPal.WebhookID = l.str("PAYPAL_WEBHOOK_ID", "")
	cfg.AWS.Region = l.str("AWS_REGION", "ap-south-1")
	cfg.AWS.AccessKeyID = l.str("AWS_ACCESS_KEY_ID", "")
	cfg.AWS.SecretAccessKey = l.str("AWS_SECRET_ACCESS_KEY", "")
	cfg.TrustedProxies = l.prefixes("TRUSTED_PROXIES")

	rate, err := decimal.NewFromString(l.str("COMMISSION_RATE", "0.10"))
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("COMMISSION_RATE: %v", err))
	} else if err := commission.ValidateRate(rate); err != nil {
		l.errs = append(l.errs, fmt.Sprintf("COMMISSION_RATE: %v", err))
	}
	cfg.CommissionRate = rate

	if cfg.MongoURI == "" {
		l.errs = append(l.errs, "MONGOURI environment variable not set")
	}
	if cfg.JWTSecret == "" {
		l.errs = append(l.errs, "JWT_SECRET environment variable not set")
	}
	if cfg.Env != EnvSandbox && cfg.Env != EnvLive {
		l.errs = append(l.errs, fmt.Sprintf("APP_ENV must be sandbox or live, got %q", cfg.Env))
	}
	if cfg.Gateway != "xendit" && cfg.Gateway != "paypal" {
		l.errs = append(l.errs, fmt.Sprintf("GATEWAY_PROVIDER must be xendit or paypal, got %q", cfg.Gateway))
	}
	if cfg.GatewayTimeout <= 0 {
		l.errs = append(l.errs, "GATEWAY_TIMEOUT must be positive")
	}

	if len(l.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(l.errs, "; "))
	}
	return cfg, nil
}

type loader struct {
	lookup Lookup
	errs   []string
}

func (l *loader) str(key, def string) string {
	if v, ok := l.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func (l *loader) int(key string, def int) int {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return i
}

func (l *loader) float(key string, def float64) float64 {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return f
}

// prefixes reads a comma or space separated list of IPs and CIDRs.
func (l *loader) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, item := range cast.ToStringSlice(strings.ReplaceAll(l.str(key, ""), ",", " ")) {
		if p, err := netip.ParsePrefix(item); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			l.errs = append(l.errs, fmt.Sprintf("%s: %q is not an IP or CIDR", key, item))
			continue
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}
