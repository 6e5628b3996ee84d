package models

import "time"

// Ban type buckets, derived from the requested duration.
const (
	BanTypeHour      = "1h"
	BanTypeDay       = "24h"
	BanTypeWeek      = "7d"
	BanTypeMonth     = "30d"
	BanTypePermanent = "permanent"
)

// BanRecord is one row in the append-style moderation log. The live
// ban flag lives on the profile; records exist for attribution and
// history. At most one record per user is active at a time.
type BanRecord struct {
	ID        string
	UserID    string
	AdminID   string
	AdminName string
	Reason    string
	CreatedAt time.Time
	EndAt     *time.Time // nil = permanent
	IsActive  bool
	BanType   string
}

// BanStatus is the resolver's answer to "is this user banned right now".
type BanStatus struct {
	Banned    bool       `json:"banned"`
	Reason    string     `json:"reason,omitempty"`
	EndAt     *time.Time `json:"end_at,omitempty"`
	AdminName string     `json:"admin_name,omitempty"`
	BanType   string     `json:"ban_type,omitempty"`
	Permanent bool       `json:"permanent,omitempty"`
}

// BanTypeForDuration maps a ban duration onto its bucket label.
// A zero or negative duration means permanent.
func BanTypeForDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return BanTypePermanent
	case d <= time.Hour:
		return BanTypeHour
	case d <= 24*time.Hour:
		return BanTypeDay
	case d <= 7*24*time.Hour:
		return BanTypeWeek
	case d <= 30*24*time.Hour:
		return BanTypeMonth
	default:
		return BanTypePermanent
	}
}
