// Package capability defines the closed set of feature flags and numeric
// limits that plans and account overrides can grant.
package capability

import (
	"errors"
	"sort"
)

var ErrUnknownCapability = errors.New("unknown_capability")

type Key string

type Kind int

const (
	KindBoolean Kind = iota
	KindLimit
)

func (k Kind) String() string {
	if k == KindLimit {
		return "limit"
	}
	return "boolean"
}

// Unlimited is the sentinel limit value meaning no upper bound.
const Unlimited int64 = -1

const (
	MaxGalleries        Key = "max_galleries"
	MaxStorageGB        Key = "max_storage_gb"
	MaxBookingsPerMonth Key = "max_bookings_per_month"
	MaxTeamMembers      Key = "max_team_members"

	CustomBranding  Key = "custom_branding"
	CustomDomain    Key = "custom_domain"
	BookingCalendar Key = "booking_calendar"
	CloudSync       Key = "cloud_sync"
	VideoGalleries  Key = "video_galleries"
	ClientDownloads Key = "client_downloads"
	DataExport      Key = "data_export"
	PrioritySupport Key = "priority_support"
)

type Definition struct {
	Key     Key
	Kind    Kind
	Default bool
}

var registry = map[Key]Definition{
	MaxGalleries:        {Key: MaxGalleries, Kind: KindLimit, Default: true},
	MaxStorageGB:        {Key: MaxStorageGB, Kind: KindLimit, Default: true},
	MaxBookingsPerMonth: {Key: MaxBookingsPerMonth, Kind: KindLimit, Default: false},
	MaxTeamMembers:      {Key: MaxTeamMembers, Kind: KindLimit, Default: false},

	CustomBranding:  {Key: CustomBranding, Kind: KindBoolean, Default: false},
	CustomDomain:    {Key: CustomDomain, Kind: KindBoolean, Default: false},
	BookingCalendar: {Key: BookingCalendar, Kind: KindBoolean, Default: false},
	CloudSync:       {Key: CloudSync, Kind: KindBoolean, Default: false},
	VideoGalleries:  {Key: VideoGalleries, Kind: KindBoolean, Default: false},
	ClientDownloads: {Key: ClientDownloads, Kind: KindBoolean, Default: true},
	DataExport:      {Key: DataExport, Kind: KindBoolean, Default: false},
	PrioritySupport: {Key: PrioritySupport, Kind: KindBoolean, Default: false},
}

// Lookup returns the definition for key or ErrUnknownCapability.
func Lookup(key Key) (Definition, error) {
	def, ok := registry[key]
	if !ok {
		return Definition{}, ErrUnknownCapability
	}
	return def, nil
}

func Parse(raw string) (Key, error) {
	key := Key(raw)
	if _, ok := registry[key]; !ok {
		return "", ErrUnknownCapability
	}
	return key, nil
}

// All returns every known definition ordered by key.
func All() []Definition {
	out := make([]Definition, 0, len(registry))
	for _, def := range registry {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
