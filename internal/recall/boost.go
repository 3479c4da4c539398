package recall

import (
	"time"

	"github.com/subcog/subcog/internal/models"
)

// BoostConfig tunes the consolidation-aware re-ranking applied after RRF
// fusion: summaries (memories with IsSummary=true, produced by an offline
// consolidation pass over many raw captures) carry distilled signal and
// are worth surfacing ahead of an individual raw memory at the same fused
// rank, and very recent memories are worth a modest nudge since they're
// more likely to reflect the current state of a project than an entry
// from months ago.
type BoostConfig struct {
	SummaryMultiplier     float64
	Recency24hMultiplier  float64
	RecencyWeekMultiplier float64
}

// DefaultBoostConfig mirrors a 24h/week recency tiering, narrowed to the
// two tiers subcog cares about.
func DefaultBoostConfig() BoostConfig {
	return BoostConfig{
		SummaryMultiplier:     1.15,
		Recency24hMultiplier:  1.10,
		RecencyWeekMultiplier: 1.03,
	}
}

// Multiplier is one independently-testable scoring adjustment: a name plus
// a function from a hit and its current score to an adjusted score.
type Multiplier interface {
	Name() string
	Multiply(hit *models.SearchHit, base float64) float64
}

// Booster applies a composed chain of Multipliers to fused recall results.
type Booster struct {
	multipliers []Multiplier
}

// NewBooster builds the default consolidation-aware booster chain.
func NewBooster(cfg BoostConfig) *Booster {
	return &Booster{multipliers: []Multiplier{
		summaryMultiplier{cfg},
		recencyMultiplier{cfg},
	}}
}

// Apply rescales each hit's Score in place by the composed multiplier
// chain. RawScore is left untouched so callers can still see the
// unmodified RRF contribution.
func (b *Booster) Apply(hits []models.SearchHit) {
	for i := range hits {
		score := float64(hits[i].Score)
		for _, m := range b.multipliers {
			score = m.Multiply(&hits[i], score)
		}
		hits[i].Score = float32(score)
	}
}

type summaryMultiplier struct{ cfg BoostConfig }

func (summaryMultiplier) Name() string { return "summary" }

func (m summaryMultiplier) Multiply(hit *models.SearchHit, base float64) float64 {
	if !hit.Memory.IsSummary || base == 0 {
		return base
	}
	return base * m.cfg.SummaryMultiplier
}

type recencyMultiplier struct{ cfg BoostConfig }

func (recencyMultiplier) Name() string { return "recency" }

func (m recencyMultiplier) Multiply(hit *models.SearchHit, base float64) float64 {
	if base == 0 || hit.Memory.CreatedAt.IsZero() {
		return base
	}
	age := time.Since(hit.Memory.CreatedAt)
	switch {
	case age < 24*time.Hour:
		return base * m.cfg.Recency24hMultiplier
	case age < 7*24*time.Hour:
		return base * m.cfg.RecencyWeekMultiplier
	default:
		return base
	}
}
