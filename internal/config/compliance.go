package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CompliancePolicy carries the tunable thresholds of the compliance engine.
type CompliancePolicy struct {
	ExpiringSoonDays     int                  `mapstructure:"expiringSoonDays"`
	Classification       ClassificationPolicy `mapstructure:"classification"`
	RenewalRetryAttempts int                  `mapstructure:"renewalRetryAttempts"`
}

// ClassificationPolicy holds the inclusive lower bounds of the rate buckets.
type ClassificationPolicy struct {
	Excellent float64 `mapstructure:"excellent"`
	Good      float64 `mapstructure:"good"`
	Warning   float64 `mapstructure:"warning"`
}

func DefaultCompliancePolicy() CompliancePolicy {
	return CompliancePolicy{
		ExpiringSoonDays: 30,
		Classification: ClassificationPolicy{
			Excellent: 80,
			Good:      60,
			Warning:   40,
		},
		RenewalRetryAttempts: 3,
	}
}

type CompliancePolicyHolder struct {
	current atomic.Value // holds CompliancePolicy
}

// NewStaticCompliancePolicyHolder returns a holder that never reloads.
func NewStaticCompliancePolicyHolder(policy CompliancePolicy) *CompliancePolicyHolder {
	holder := &CompliancePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewCompliancePolicyHolder(log *zap.Logger) (*CompliancePolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("compliance")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/aerocert/config")
	v.AddConfigPath("/etc/aerocert")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AEROCERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCompliancePolicy()
	v.SetDefault("compliance.expiringSoonDays", defaults.ExpiringSoonDays)
	v.SetDefault("compliance.classification.excellent", defaults.Classification.Excellent)
	v.SetDefault("compliance.classification.good", defaults.Classification.Good)
	v.SetDefault("compliance.classification.warning", defaults.Classification.Warning)
	v.SetDefault("compliance.renewalRetryAttempts", defaults.RenewalRetryAttempts)

	configLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		configLoaded = false
	}

	var policy CompliancePolicy
	if err := v.UnmarshalKey("compliance", &policy); err != nil {
		return nil, err
	}
	if err := ValidateCompliancePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticCompliancePolicyHolder(policy)
	if !configLoaded {
		return holder, nil
	}

	log = log.Named("compliance.config")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CompliancePolicy
		if err := v.UnmarshalKey("compliance", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := ValidateCompliancePolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CompliancePolicyHolder) Get() CompliancePolicy {
	if h == nil {
		return DefaultCompliancePolicy()
	}
	return h.current.Load().(CompliancePolicy)
}

func ValidateCompliancePolicy(policy CompliancePolicy) error {
	if policy.ExpiringSoonDays < 0 {
		return errors.New("compliance.expiringSoonDays cannot be negative")
	}
	c := policy.Classification
	if c.Excellent > 100 || c.Warning < 0 {
		return errors.New("compliance.classification thresholds must be within 0..100")
	}
	if !(c.Excellent > c.Good && c.Good > c.Warning) {
		return errors.New("compliance.classification thresholds must be strictly descending")
	}
	if policy.RenewalRetryAttempts < 1 {
		return errors.New("compliance.renewalRetryAttempts must be at least 1")
	}
	return nil
}
