// Package license computes validity facts from the stored license record.
package license

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ibero-data/modgate/internal/store"
)

const (
	Collection = "system"
	DocumentID = "license"

	DefaultTrialDays        = 30
	DefaultExpiringSoonDays = 7
)

var (
	ErrNotFound    = errors.New("license not found")
	ErrInvalidDays = errors.New("days must be greater than zero")
)

const (
	MessageExpired   = "La licencia ha expirado"
	MessageNoLicense = "No hay licencia activa"
	MessageUnlimited = "Licencia válida (sin vencimiento)"
	messageValid     = "Licencia válida (%d días restantes)"
)

// License is the singleton record gating the whole system.
type License struct {
	IsActive  bool       `json:"isActive"`
	DemoMode  bool       `json:"demoMode"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	// Features is reserved and never consulted by an access decision.
	Features []string `json:"features"`
	Notes    string   `json:"notes"`
}

// Info is the read model served to clients.
type Info struct {
	Valid         bool       `json:"valid"`
	Expired       bool       `json:"expired"`
	DaysRemaining int        `json:"daysRemaining"`
	DemoMode      bool       `json:"demoMode"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	Unlimited     bool       `json:"unlimited"`
	ExpiringSoon  bool       `json:"expiringSoon"`
	Message       string     `json:"message"`
}

// NoLicenseInfo is the conservative view used when no license can be read.
func NoLicenseInfo() Info {
	return Info{Expired: true, Message: MessageNoLicense}
}

// IsExpired fails closed: a nil or inactive license is expired. A license
// without expiry never expires.
func IsExpired(l *License, now time.Time) bool {
	if l == nil || !l.IsActive {
		return true
	}
	if l.ExpiresAt == nil {
		return false
	}
	return now.After(*l.ExpiresAt)
}

// IsValidAt reports whether l grants access at now.
func IsValidAt(l *License, now time.Time) bool {
	return l != nil && l.IsActive && !IsExpired(l, now)
}

// Describe derives the read model. DaysRemaining is the ceiling of the
// remaining time in days and is zero exactly when the license is expired or
// has no expiry. An unlimited license therefore reports zero days with
// Expired false; check Unlimited before reading DaysRemaining.
func Describe(l *License, now time.Time, expiringSoonDays int) Info {
	if l == nil {
		return NoLicenseInfo()
	}

	expired := IsExpired(l, now)
	info := Info{
		Valid:     l.IsActive && !expired,
		Expired:   expired,
		DemoMode:  l.DemoMode,
		ExpiresAt: l.ExpiresAt,
		Unlimited: l.ExpiresAt == nil,
	}

	switch {
	case expired:
		info.Message = MessageExpired
	case l.ExpiresAt == nil:
		info.Message = MessageUnlimited
	default:
		info.DaysRemaining = daysUntil(*l.ExpiresAt, now)
		info.ExpiringSoon = info.DaysRemaining <= expiringSoonDays
		info.Message = fmt.Sprintf(messageValid, info.DaysRemaining)
	}
	return info
}

func daysUntil(t, now time.Time) int {
	days := int(math.Ceil(t.Sub(now).Hours() / 24))
	// Still valid at the exact deadline, so report the last day.
	if days < 1 {
		return 1
	}
	return days
}

// FormatRemaining renders a countdown as "Xd Yh", "Xh Ym" or "Xm".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Expirada"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// Patch is a partial license update. Nil fields are left untouched.
type Patch struct {
	IsActive    *bool
	DemoMode    *bool
	ExpiresAt   *time.Time
	ClearExpiry bool
	Features    []string
	Notes       *string
}

func (p Patch) fields() store.Fields {
	f := store.Fields{}
	if p.IsActive != nil {
		f["isActive"] = *p.IsActive
	}
	if p.DemoMode != nil {
		f["demoMode"] = *p.DemoMode
	}
	if p.ClearExpiry {
		f["expiresAt"] = nil
	} else if p.ExpiresAt != nil {
		f["expiresAt"] = p.ExpiresAt.UTC()
	}
	if p.Features != nil {
		f["features"] = p.Features
	}
	if p.Notes != nil {
		f["notes"] = *p.Notes
	}
	return f
}
