package models

import (
	"time"
)

// Perk tags grantable to a profile. PerkUser is the baseline and can
// never be removed.
const (
	PerkUser      = "user"
	PerkEarlyUser = "early_user"
	PerkSponsor   = "sponsor"
	PerkAdmin     = "admin"
)

// knownPerks is the full perk vocabulary. Unknown tags are dropped
// during normalization.
var knownPerks = map[string]bool{
	PerkUser:      true,
	PerkEarlyUser: true,
	PerkSponsor:   true,
	PerkAdmin:     true,
}

type Profile struct {
	ID            string
	DisplayName   string // unique across profiles, enforced by pre-write check
	Email         string
	PasswordHash  string
	Perks         []string
	ActivePerk    string
	PerksRaw      string // serialized perk mirror, consumed by the perk sync trigger
	NeedsPerkSync bool
	Avatar        string
	IsBanned      bool
	BanReason     *string
	BanEndAt      *time.Time // nil while banned means permanent
	BanAdminID    *string
	BanAdminName  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsKnownPerk reports whether a tag is part of the perk vocabulary.
func IsKnownPerk(perk string) bool {
	return knownPerks[perk]
}

// HasPerk reports whether the profile holds the given perk.
func (p *Profile) HasPerk(perk string) bool {
	for _, t := range p.Perks {
		if t == perk {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the profile holds the admin perk.
func (p *Profile) IsAdmin() bool {
	return p.HasPerk(PerkAdmin)
}

// NormalizePerks deduplicates the desired perk set, drops tags outside
// the vocabulary, and guarantees PerkUser membership. Input order is
// preserved; PerkUser is prepended when absent so that a full
// revocation still yields a usable set.
func NormalizePerks(desired []string) []string {
	seen := make(map[string]bool, len(desired))
	out := make([]string, 0, len(desired)+1)

	for _, perk := range desired {
		if !knownPerks[perk] || seen[perk] {
			continue
		}
		seen[perk] = true
		out = append(out, perk)
	}

	if !seen[PerkUser] {
		out = append([]string{PerkUser}, out...)
	}

	return out
}

// ResolveActivePerk keeps the current active perk if it survives in
// the new set; otherwise the first element of the set wins, defaulting
// to PerkUser for an empty set.
func ResolveActivePerk(current string, perks []string) string {
	for _, perk := range perks {
		if perk == current {
			return current
		}
	}
	if len(perks) > 0 {
		return perks[0]
	}
	return PerkUser
}

// PerksEqual compares two perk lists element-wise. Used by the
// post-write verification read, where order matters because the first
// element is the active-perk fallback.
func PerksEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
