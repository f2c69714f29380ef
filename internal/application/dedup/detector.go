// Package dedup decides whether an incoming payment record re-reports one
// that is already stored.
package dedup

import (
	"math"
	"strings"
	"time"

	"github.com/go-paynotify/internal/domain"
)

const DefaultWindow = 60 * time.Second

// Config sets the matching window and the optional extra match fields.
// With both flags off only device, source app and time decide.
type Config struct {
	Window      time.Duration
	MatchAmount bool
	MatchPayer  bool
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Detector{cfg: cfg}
}

func (d *Detector) Window() time.Duration { return d.cfg.Window }

// IsDuplicate reports whether any record in recent, for the same device and
// source app, was received within the window of candidate. Existence is
// enough; the closest match is not searched for.
func (d *Detector) IsDuplicate(candidate domain.NotificationRecord, recent []domain.NotificationRecord) bool {
	for _, r := range recent {
		if r.NotificationID != "" && r.NotificationID == candidate.NotificationID {
			continue
		}
		if r.DeviceID != candidate.DeviceID || r.SourceApp != candidate.SourceApp {
			continue
		}
		if absDuration(candidate.ReceivedAt.Sub(r.ReceivedAt)) > d.cfg.Window {
			continue
		}
		if d.cfg.MatchAmount && !sameAmount(candidate.Amount, r.Amount) {
			continue
		}
		if d.cfg.MatchPayer && !samePayer(candidate.PayerName, r.PayerName) {
			continue
		}
		return true
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func sameAmount(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 0.005
}

func samePayer(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.EqualFold(strings.TrimSpace(*a), strings.TrimSpace(*b))
}
