package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SettlementConfig controls the settlement engine. It is hot reloaded from
// settlement.yml.
type SettlementConfig struct {
	Timezone      string        `mapstructure:"timezone"`
	LockWait      time.Duration `mapstructure:"lockWait"`
	RunLockTTL    time.Duration `mapstructure:"runLockTTL"`
	InvoicePrefix string        `mapstructure:"invoicePrefix"`
	InvoiceDigits int           `mapstructure:"invoiceDigits"`
	// InvoiceFormat overrides prefix and digits, e.g. "INV-{YYYY}W{WW}-{SEQ4}".
	InvoiceFormat string `mapstructure:"invoiceFormat"`
	// CompanyName heads rendered invoices.
	CompanyName string `mapstructure:"companyName"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		Timezone:      "America/Chicago",
		LockWait:      10 * time.Second,
		RunLockTTL:    2 * time.Minute,
		InvoicePrefix: "INV-",
		InvoiceDigits: 6,
		CompanyName:   "FieldOps",
	}
}

// Location resolves the reference timezone, falling back to UTC.
func (c SettlementConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

// InvoiceNumberFormat returns the invoice number template. Without an
// explicit format the prefix is followed by the zero padded sequence.
func (c SettlementConfig) InvoiceNumberFormat() string {
	if f := strings.TrimSpace(c.InvoiceFormat); f != "" {
		return f
	}
	digits := c.InvoiceDigits
	if digits <= 0 {
		digits = 6
	}
	return fmt.Sprintf("%s{SEQ%d}", c.InvoicePrefix, digits)
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

// NewStaticSettlementConfig returns a holder that never reloads.
func NewStaticSettlementConfig(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSettlementConfigHolder(appCfg Config, log *zap.Logger) (*SettlementConfigHolder, error) {
	v := viper.New()

	if appCfg.SettlementConfigPath != "" {
		v.SetConfigFile(appCfg.SettlementConfigPath)
	} else {
		v.SetConfigName("settlement")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/fieldops")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FIELDOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettlementConfig()
	v.SetDefault("settlement.timezone", defaults.Timezone)
	v.SetDefault("settlement.lockWait", defaults.LockWait)
	v.SetDefault("settlement.runLockTTL", defaults.RunLockTTL)
	v.SetDefault("settlement.invoicePrefix", defaults.InvoicePrefix)
	v.SetDefault("settlement.invoiceDigits", defaults.InvoiceDigits)
	v.SetDefault("settlement.invoiceFormat", defaults.InvoiceFormat)
	v.SetDefault("settlement.companyName", defaults.CompanyName)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg SettlementConfig
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := validateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated SettlementConfig
			if err := v.UnmarshalKey("settlement", &updated); err != nil {
				log.Warn("settlement config reload failed", zap.Error(err))
				return
			}
			if err := validateSettlementConfig(updated); err != nil {
				log.Warn("invalid settlement config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("settlement config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	if h == nil {
		return DefaultSettlementConfig()
	}
	cfg, ok := h.current.Load().(SettlementConfig)
	if !ok {
		return DefaultSettlementConfig()
	}
	return cfg
}

func validateSettlementConfig(cfg SettlementConfig) error {
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone)); err != nil {
		return fmt.Errorf("settlement.timezone: %w", err)
	}
	if cfg.LockWait <= 0 {
		return errors.New("settlement.lockWait must be positive")
	}
	if cfg.RunLockTTL <= 0 {
		return errors.New("settlement.runLockTTL must be positive")
	}
	if cfg.InvoiceDigits < 0 || cfg.InvoiceDigits > 12 {
		return errors.New("settlement.invoiceDigits must be between 0 and 12")
	}
	return nil
}
