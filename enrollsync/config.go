package enrollsync

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrUnknownSite means the event named a site code with no configuration.
var ErrUnknownSite = errors.New("unknown site code")

// Template scenario keys accepted in site override files.
const (
	TemplateAbandonedCart = "abandoned_cart"
	TemplateEnroll        = "enroll"
	TemplatePurchase      = "purchase"
	TemplateUpgrade       = "upgrade"
)

// Templates holds the Sailthru template names used per messaging scenario.
type Templates struct {
	AbandonedCart string
	Enroll        string
	Purchase      string
	Upgrade       string
}

// SiteConfig is the effective configuration for one site, resolved once per
// event and read-only afterwards.
type SiteConfig struct {
	Enabled         bool
	MinimumCost     decimal.Decimal
	Templates       Templates
	ContentCacheTTL time.Duration
}

// SettingsConfig carries the flag-provided base settings plus the location of
// the per-site override file.
type SettingsConfig struct {
	Enabled               bool
	MinimumCost           string
	AbandonedCartTemplate string
	EnrollTemplate        string
	PurchaseTemplate      string
	UpgradeTemplate       string
	ContentCacheTTL       time.Duration
	SiteOverridesFile     string
}

// RegisterFlags registers flags to configure event processing.
func (c *SettingsConfig) RegisterFlags(f *flag.FlagSet) {
	f.BoolVar(&c.Enabled, "sync.enabled", true, "Whether to sync events with Sailthru at all")
	f.StringVar(&c.MinimumCost, "sync.minimum-cost", "1", "Minimum unit cost below which free enrollments are not recorded as purchases")
	f.StringVar(&c.AbandonedCartTemplate, "sync.template.abandoned-cart", "abandoned cart", "Template for abandoned cart reminders")
	f.StringVar(&c.EnrollTemplate, "sync.template.enroll", "course enroll", "Template sent on completed free enrollment")
	f.StringVar(&c.PurchaseTemplate, "sync.template.purchase", "course purchase", "Template sent on completed purchase")
	f.StringVar(&c.UpgradeTemplate, "sync.template.upgrade", "course upgrade", "Template sent on completed upgrade")
	f.DurationVar(&c.ContentCacheTTL, "sync.content-cache-ttl", time.Hour, "How long fetched course content stays fresh")
	f.StringVar(&c.SiteOverridesFile, "sync.site-overrides-file", "", "JSON file with per-site configuration overrides")
}

// SiteOverride is one site's partial configuration; unset fields fall back to
// the base settings.
type SiteOverride struct {
	Enabled                *bool             `json:"enabled,omitempty"`
	MinimumCost            *string           `json:"minimum_cost,omitempty"`
	Templates              map[string]string `json:"templates,omitempty"`
	ContentCacheTTLSeconds *int              `json:"content_cache_ttl_seconds,omitempty"`
}

// SiteSettings resolves the effective SiteConfig for an event's site code.
type SiteSettings struct {
	base      SiteConfig
	overrides map[string]SiteOverride
}

// NewSiteSettings parses the base settings and loads the override file, when
// one is configured.
func NewSiteSettings(cfg SettingsConfig) (*SiteSettings, error) {
	minimumCost, err := decimal.NewFromString(cfg.MinimumCost)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid minimum cost %q", cfg.MinimumCost)
	}

	s := &SiteSettings{
		base: SiteConfig{
			Enabled:     cfg.Enabled,
			MinimumCost: minimumCost,
			Templates: Templates{
				AbandonedCart: cfg.AbandonedCartTemplate,
				Enroll:        cfg.EnrollTemplate,
				Purchase:      cfg.PurchaseTemplate,
				Upgrade:       cfg.UpgradeTemplate,
			},
			ContentCacheTTL: cfg.ContentCacheTTL,
		},
		overrides: map[string]SiteOverride{},
	}

	if cfg.SiteOverridesFile != "" {
		data, err := os.ReadFile(cfg.SiteOverridesFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading site overrides")
		}
		if err := json.Unmarshal(data, &s.overrides); err != nil {
			return nil, errors.Wrap(err, "parsing site overrides")
		}
		// Fail at startup on override values we cannot parse, not per event.
		for code, o := range s.overrides {
			if o.MinimumCost != nil {
				if _, err := decimal.NewFromString(*o.MinimumCost); err != nil {
					return nil, errors.Wrapf(err, "site %s: invalid minimum cost", code)
				}
			}
		}
	}
	return s, nil
}

// Resolve returns the effective configuration for siteCode. The empty site
// code resolves to the base settings; a site code without an override entry
// is an error.
func (s *SiteSettings) Resolve(siteCode string) (SiteConfig, error) {
	if siteCode == "" {
		return s.base, nil
	}
	o, ok := s.overrides[siteCode]
	if !ok {
		return SiteConfig{}, errors.Wrap(ErrUnknownSite, siteCode)
	}

	cfg := s.base
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.MinimumCost != nil {
		// Validated in NewSiteSettings.
		cfg.MinimumCost, _ = decimal.NewFromString(*o.MinimumCost)
	}
	if t, ok := o.Templates[TemplateAbandonedCart]; ok {
		cfg.Templates.AbandonedCart = t
	}
	if t, ok := o.Templates[TemplateEnroll]; ok {
		cfg.Templates.Enroll = t
	}
	if t, ok := o.Templates[TemplatePurchase]; ok {
		cfg.Templates.Purchase = t
	}
	if t, ok := o.Templates[TemplateUpgrade]; ok {
		cfg.Templates.Upgrade = t
	}
	if o.ContentCacheTTLSeconds != nil {
		cfg.ContentCacheTTL = time.Duration(*o.ContentCacheTTLSeconds) * time.Second
	}
	return cfg, nil
}
