package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanDefinition is one tier of the plan catalog as written in plans.yml.
type PlanDefinition struct {
	Name        string           `mapstructure:"name"`
	DisplayName string           `mapstructure:"display_name"`
	SortOrder   int              `mapstructure:"sort_order"`
	PriceRefs   []string         `mapstructure:"price_refs"`
	Features    map[string]bool  `mapstructure:"features"`
	Limits      map[string]int64 `mapstructure:"limits"`
}

type PlanCatalog struct {
	Plans []PlanDefinition `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []PlanDefinition{
			{
				Name:        "free",
				DisplayName: "Free",
				SortOrder:   0,
				Features: map[string]bool{
					string(capability.ClientDownloads): true,
				},
				Limits: map[string]int64{
					string(capability.MaxGalleries):        3,
					string(capability.MaxStorageGB):        2,
					string(capability.MaxBookingsPerMonth): 0,
					string(capability.MaxTeamMembers):      0,
				},
			},
			{
				Name:        "pro",
				DisplayName: "Pro",
				SortOrder:   1,
				Features: map[string]bool{
					string(capability.ClientDownloads): true,
					string(capability.CustomBranding):  true,
					string(capability.BookingCalendar): true,
					string(capability.CloudSync):       true,
				},
				Limits: map[string]int64{
					string(capability.MaxGalleries):        50,
					string(capability.MaxStorageGB):        200,
					string(capability.MaxBookingsPerMonth): 100,
					string(capability.MaxTeamMembers):      1,
				},
			},
			{
				Name:        "studio",
				DisplayName: "Studio",
				SortOrder:   2,
				Features: map[string]bool{
					string(capability.ClientDownloads): true,
					string(capability.CustomBranding):  true,
					string(capability.CustomDomain):    true,
					string(capability.BookingCalendar): true,
					string(capability.CloudSync):       true,
					string(capability.VideoGalleries):  true,
					string(capability.DataExport):      true,
					string(capability.PrioritySupport): true,
				},
				Limits: map[string]int64{
					string(capability.MaxGalleries):        capability.Unlimited,
					string(capability.MaxStorageGB):        1000,
					string(capability.MaxBookingsPerMonth): capability.Unlimited,
					string(capability.MaxTeamMembers):      10,
				},
			},
		},
	}
}

// PlanCatalogHolder keeps the latest valid catalog and notifies subscribers
// whenever plans.yml changes on disk.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
	log     *zap.Logger

	mu        sync.Mutex
	listeners []func(PlanCatalog)
}

func NewPlanCatalogHolder(cfg Config, log *zap.Logger) (*PlanCatalogHolder, error) {
	holder := &PlanCatalogHolder{log: log.Named("config.plans")}

	v := viper.New()
	if cfg.PlanCatalogPath != "" {
		v.SetConfigFile(cfg.PlanCatalogPath)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/closeframe")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CLOSEFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.log.Info("plans.yml not found, using built-in catalog")
		holder.current.Store(DefaultPlanCatalog())
		return holder, nil
	}

	catalog, err := decodeCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCatalog(v)
		if err != nil {
			holder.log.Warn("invalid plan catalog ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.Set(updated)
		holder.log.Info("plan catalog reloaded", zap.String("file", e.Name), zap.Int("plans", len(updated.Plans)))
	})

	return holder, nil
}

// NewStaticPlanCatalogHolder wraps a fixed catalog without watching any file.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{log: zap.NewNop()}
	holder.current.Store(catalog)
	return holder
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// Set stores catalog and fans it out to subscribers.
func (h *PlanCatalogHolder) Set(catalog PlanCatalog) {
	h.current.Store(catalog)

	h.mu.Lock()
	listeners := append([]func(PlanCatalog){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(catalog)
	}
}

func (h *PlanCatalogHolder) Subscribe(fn func(PlanCatalog)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func decodeCatalog(v *viper.Viper) (PlanCatalog, error) {
	var catalog PlanCatalog
	if err := v.Unmarshal(&catalog); err != nil {
		return PlanCatalog{}, err
	}
	if err := ValidatePlanCatalog(catalog); err != nil {
		return PlanCatalog{}, err
	}
	return catalog, nil
}

// ValidatePlanCatalog rejects catalogs that break the total order over tiers
// or reference capabilities with the wrong kind.
func ValidatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}

	names := make(map[string]struct{}, len(catalog.Plans))
	orders := make(map[int]struct{}, len(catalog.Plans))
	for _, p := range catalog.Plans {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errors.New("plan name is required")
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("duplicate plan name %q", name)
		}
		names[name] = struct{}{}
		if _, dup := orders[p.SortOrder]; dup {
			return fmt.Errorf("duplicate sort_order %d", p.SortOrder)
		}
		orders[p.SortOrder] = struct{}{}

		for key := range p.Features {
			def, err := capability.Lookup(capability.Key(key))
			if err != nil {
				return fmt.Errorf("plan %s: %w: %s", name, err, key)
			}
			if def.Kind != capability.KindBoolean {
				return fmt.Errorf("plan %s: %s is a limit, not a feature", name, key)
			}
		}
		for key, value := range p.Limits {
			def, err := capability.Lookup(capability.Key(key))
			if err != nil {
				return fmt.Errorf("plan %s: %w: %s", name, err, key)
			}
			if def.Kind != capability.KindLimit {
				return fmt.Errorf("plan %s: %s is a feature, not a limit", name, key)
			}
			if value < capability.Unlimited {
				return fmt.Errorf("plan %s: limit %s must be >= -1", name, key)
			}
		}
	}
	return nil
}
