// Package profile defines the profiled entity, its closed category set and
// the coverage ledger that gates readiness.
package profile

import "time"

// Tier is the privilege class that determines enrollment minimums.
type Tier string

const (
	TierStandard Tier = "standard"
	TierTrial    Tier = "trial"
)

// Status is the enrollment state of a profile.
type Status string

const (
	StatusEnrolling Status = "enrolling"
	StatusActive    Status = "active"
	StatusArchived  Status = "archived"
)

// Minimums are fixed on a profile at creation time.
type Minimums struct {
	Interactions int `json:"interactions"`
	PerCategory  int `json:"per_category"`
}

// Profile is the subject whose cognitive profile is built and queried.
type Profile struct {
	ID               string      `json:"id"`
	OwnerID          string      `json:"owner_id"`
	Name             string      `json:"name"`
	Tier             Tier        `json:"tier"`
	Status           Status      `json:"status"`
	MinInteractions  int         `json:"min_interactions"`
	Coverage         CoverageMap `json:"coverage"`
	TotalAnswered    int         `json:"total_answered"`
	Completion       int         `json:"completion"`
	ConsistencyScore *float64    `json:"consistency_score,omitempty"`
	ActivatedAt      *time.Time  `json:"activated_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// New returns an enrolling profile whose minimums are frozen from m.
func New(id, ownerID, name string, tier Tier, m Minimums) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:              id,
		OwnerID:         ownerID,
		Name:            name,
		Tier:            tier,
		Status:          StatusEnrolling,
		MinInteractions: m.Interactions,
		Coverage:        NewCoverageMap(m.PerCategory),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsReady reports whether the profile meets both activation thresholds.
// It has no side effects.
func (p *Profile) IsReady() bool {
	return Ready(p.TotalAnswered, p.MinInteractions, p.Coverage)
}

// Shortfall describes what is still missing, or nil when ready.
func (p *Profile) Shortfall() *ShortfallError {
	if p.IsReady() {
		return nil
	}
	return &ShortfallError{
		Answered:  p.TotalAnswered,
		Required:  p.MinInteractions,
		Uncovered: p.Coverage.Uncovered(),
	}
}

// Authorize checks that requester owns the profile.
func (p *Profile) Authorize(requester string) error {
	if p.OwnerID != requester {
		return ErrForbidden
	}
	return nil
}
