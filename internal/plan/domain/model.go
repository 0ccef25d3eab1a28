package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	"gorm.io/datatypes"
)

// Config holds a plan's capability grants. A limit of capability.Unlimited
// means no upper bound.
type Config struct {
	Features map[capability.Key]bool  `json:"features"`
	Limits   map[capability.Key]int64 `json:"limits"`
}

type Plan struct {
	ID          snowflake.ID               `gorm:"primaryKey" json:"id"`
	Name        string                     `json:"name"`
	DisplayName string                     `json:"display_name"`
	SortOrder   int                        `json:"sort_order"`
	Config      datatypes.JSONType[Config] `json:"config"`
	PriceRefs   pq.StringArray             `gorm:"type:text[]" json:"price_refs"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// HasPrice reports whether priceID is one of the plan's processor prices.
func (p *Plan) HasPrice(priceID string) bool {
	if p == nil || priceID == "" {
		return false
	}
	return slices.Contains([]string(p.PriceRefs), priceID)
}

// Purchasable reports whether the plan can be bought through the processor.
func (p *Plan) Purchasable() bool {
	return p != nil && len(p.PriceRefs) > 0
}
