package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditsPolicy holds operational knobs for orders, approvals and reconciliation.
type CreditsPolicy struct {
	MaxOrderQuantity  int64         `mapstructure:"maxOrderQuantity"`
	OrderTTL          time.Duration `mapstructure:"orderTTL"`
	OrderExpiryGrace  time.Duration `mapstructure:"orderExpiryGrace"`
	PurchaseSLA       time.Duration `mapstructure:"purchaseSLA"`
	FetchMaxRetries   int           `mapstructure:"fetchMaxRetries"`
	FetchBaseDelay    time.Duration `mapstructure:"fetchBaseDelay"`
	FetchMaxDelay     time.Duration `mapstructure:"fetchMaxDelay"`
	ReplayMaxAttempts int           `mapstructure:"replayMaxAttempts"`
	ReplayBaseDelay   time.Duration `mapstructure:"replayBaseDelay"`
	ReplayMaxDelay    time.Duration `mapstructure:"replayMaxDelay"`
}

func DefaultCreditsPolicy() CreditsPolicy {
	return CreditsPolicy{
		MaxOrderQuantity:  100_000,
		OrderTTL:          24 * time.Hour,
		OrderExpiryGrace:  time.Hour,
		PurchaseSLA:       24 * time.Hour,
		FetchMaxRetries:   3,
		FetchBaseDelay:    200 * time.Millisecond,
		FetchMaxDelay:     2 * time.Second,
		ReplayMaxAttempts: 8,
		ReplayBaseDelay:   time.Minute,
		ReplayMaxDelay:    time.Hour,
	}
}

type CreditsPolicyHolder struct {
	current atomic.Value // holds CreditsPolicy
}

// NewStaticCreditsPolicyHolder returns a holder that never reloads.
func NewStaticCreditsPolicyHolder(policy CreditsPolicy) *CreditsPolicyHolder {
	holder := &CreditsPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewCreditsPolicyHolder() (*CreditsPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("credits")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/campaigncredit/config")
	v.AddConfigPath("/etc/campaigncredit")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CAMPAIGNCREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCreditsPolicy()
	v.SetDefault("credits.maxOrderQuantity", defaults.MaxOrderQuantity)
	v.SetDefault("credits.orderTTL", defaults.OrderTTL)
	v.SetDefault("credits.orderExpiryGrace", defaults.OrderExpiryGrace)
	v.SetDefault("credits.purchaseSLA", defaults.PurchaseSLA)
	v.SetDefault("credits.fetchMaxRetries", defaults.FetchMaxRetries)
	v.SetDefault("credits.fetchBaseDelay", defaults.FetchBaseDelay)
	v.SetDefault("credits.fetchMaxDelay", defaults.FetchMaxDelay)
	v.SetDefault("credits.replayMaxAttempts", defaults.ReplayMaxAttempts)
	v.SetDefault("credits.replayBaseDelay", defaults.ReplayBaseDelay)
	v.SetDefault("credits.replayMaxDelay", defaults.ReplayMaxDelay)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var policy CreditsPolicy
	if err := v.UnmarshalKey("credits", &policy); err != nil {
		return nil, err
	}
	if err := validateCreditsPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticCreditsPolicyHolder(policy)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditsPolicy
		if err := v.UnmarshalKey("credits", &updated); err != nil {
			log.Printf("[credits-config] reload failed: %v", err)
			return
		}
		if err := validateCreditsPolicy(updated); err != nil {
			log.Printf("[credits-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[credits-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CreditsPolicyHolder) Get() CreditsPolicy {
	return h.current.Load().(CreditsPolicy)
}

func validateCreditsPolicy(p CreditsPolicy) error {
	if p.MaxOrderQuantity <= 0 {
		return errors.New("credits.maxOrderQuantity must be positive")
	}
	if p.OrderTTL <= 0 {
		return errors.New("credits.orderTTL must be positive")
	}
	if p.OrderExpiryGrace < 0 {
		return errors.New("credits.orderExpiryGrace cannot be negative")
	}
	if p.FetchMaxRetries < 0 {
		return errors.New("credits.fetchMaxRetries cannot be negative")
	}
	if p.ReplayMaxAttempts <= 0 {
		return errors.New("credits.replayMaxAttempts must be positive")
	}
	return nil
}
