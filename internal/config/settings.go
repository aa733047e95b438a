package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Settings are the operator-tunable storage settings. They live in a
// storage.yml file and hot-reload without a restart.
type Settings struct {
	Stripe        StripeSettings       `mapstructure:"stripe"`
	Violation     ViolationSettings    `mapstructure:"violation"`
	Notifications NotificationSettings `mapstructure:"notifications"`
}

type StripeSettings struct {
	EnableBilling  bool   `mapstructure:"enable_billing"`
	DefaultPriceID string `mapstructure:"default_price_id"`
}

type ViolationSettings struct {
	// DefaultDailyRate is kept as a string in config so operators write
	// exact amounts ("2.00") rather than floats.
	DefaultDailyRate string `mapstructure:"default_daily_rate"`
	GracePeriodHours int    `mapstructure:"grace_period_hours"`
}

type NotificationSettings struct {
	Recipients    string   `mapstructure:"recipients"`
	EnabledEvents []string `mapstructure:"enabled_events"`
}

// DefaultRate parses the configured daily rate, zero when unset or invalid.
func (v ViolationSettings) DefaultRate() decimal.Decimal {
	value := strings.TrimSpace(v.DefaultDailyRate)
	if value == "" {
		return decimal.Zero
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// RecipientList splits the comma-separated staff recipients.
func (n NotificationSettings) RecipientList() []string {
	parts := strings.Split(n.Recipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EventEnabled reports whether a notification event is switched on.
func (n NotificationSettings) EventEnabled(event string) bool {
	for _, e := range n.EnabledEvents {
		if strings.EqualFold(strings.TrimSpace(e), event) {
			return true
		}
	}
	return false
}

func DefaultSettings() Settings {
	return Settings{
		Violation: ViolationSettings{
			DefaultDailyRate: "0.00",
			GracePeriodHours: 48,
		},
	}
}

// SettingsHolder exposes the current settings snapshot and reloads the file
// when it changes on disk.
type SettingsHolder struct {
	current atomic.Value // holds Settings
}

func NewSettingsHolder() (*SettingsHolder, error) {
	v := viper.New()

	v.SetConfigName("storage")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/storman/config")
	v.AddConfigPath("/etc/storman")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STORMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("violation.default_daily_rate", defaults.Violation.DefaultDailyRate)
	v.SetDefault("violation.grace_period_hours", defaults.Violation.GracePeriodHours)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateSettings(cfg); err != nil {
		return nil, err
	}

	holder := &SettingsHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Settings
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[storage-settings] reload failed: %v", err)
			return
		}
		if err := validateSettings(updated); err != nil {
			log.Printf("[storage-settings] invalid settings ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[storage-settings] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SettingsHolder) Get() Settings {
	return h.current.Load().(Settings)
}

// NewStaticSettingsHolder wraps fixed settings, used by tests.
func NewStaticSettingsHolder(s Settings) *SettingsHolder {
	holder := &SettingsHolder{}
	holder.current.Store(s)
	return holder
}

func validateSettings(cfg Settings) error {
	if cfg.Violation.GracePeriodHours < 0 {
		return errors.New("violation.grace_period_hours cannot be negative")
	}
	if rate := strings.TrimSpace(cfg.Violation.DefaultDailyRate); rate != "" {
		if _, err := decimal.NewFromString(rate); err != nil {
			return errors.New("violation.default_daily_rate is not a valid amount")
		}
	}
	if cfg.Stripe.EnableBilling && strings.TrimSpace(cfg.Stripe.DefaultPriceID) == "" {
		// Billing can run without a tenant default as long as every unit
		// type carries its own price id, so this is only logged.
		log.Printf("[storage-settings] billing enabled without stripe.default_price_id")
	}
	return nil
}
