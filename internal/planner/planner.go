// Package planner reduces catalog results to one acquisition target per
// region and calendar day, skipping days already materialized on disk.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/robert-malhotra/fieldscenes/internal/catalog"
	"github.com/robert-malhotra/fieldscenes/internal/region"
)

// Policy selects one scene among several sharing a calendar day.
type Policy string

const (
	// First keeps the first scene in catalog order.
	First Policy = "first"
	// LeastRecent keeps the earliest acquisition of the day.
	LeastRecent Policy = "leastRecent"
	// MostRecent keeps the latest acquisition of the day.
	MostRecent Policy = "mostRecent"
	// LeastCC keeps the scene with the lowest cloud cover.
	LeastCC Policy = "leastCC"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case First, LeastRecent, MostRecent, LeastCC:
		return p, nil
	}
	return "", fmt.Errorf("unknown tie-break policy %q", s)
}

// Target is one (region, date) unit of fetch work.
type Target struct {
	Region *region.Region
	// Date is the UTC calendar day, YYYY-MM-DD.
	Date string
	// Day is Date at UTC midnight.
	Day   time.Time
	Scene catalog.Scene
	// Candidates is the number of scenes that matched this day.
	Candidates int
}

// Key identifies the target in logs.
func (t Target) Key() string {
	return t.Region.Key() + "@" + t.Date
}

// Plan is the outcome of planning one region.
type Plan struct {
	// Targets still need fetching, in ascending date order.
	Targets []Target
	// Existing are already complete on disk, in ascending date order.
	Existing []Target
}

// CompletionChecker reports whether a target is already materialized.
type CompletionChecker interface {
	TargetComplete(r *region.Region, sceneID, date string, bands []string) bool
}

// Planner builds plans for regions.
type Planner struct {
	policy Policy
	store  CompletionChecker
	bands  []string
}

// New creates a planner. store may be nil to plan every day.
func New(policy Policy, store CompletionChecker, bands []string) *Planner {
	if policy == "" {
		policy = First
	}
	return &Planner{policy: policy, store: store, bands: bands}
}

// Plan groups scenes by day, picks one per day, and splits the result into
// pending and existing targets. Scene order on input is not assumed.
func (p *Planner) Plan(r *region.Region, scenes []catalog.Scene) Plan {
	var plan Plan
	for _, pick := range SelectPerDate(scenes, p.policy) {
		ts := pick.Scene.Datetime.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		t := Target{
			Region:     r,
			Date:       pick.Scene.Date(),
			Day:        day,
			Scene:      pick.Scene,
			Candidates: pick.Candidates,
		}
		if p.store != nil && p.store.TargetComplete(r, t.Scene.ID, t.Date, p.bands) {
			plan.Existing = append(plan.Existing, t)
			continue
		}
		plan.Targets = append(plan.Targets, t)
	}
	return plan
}

// Selection is the scene chosen for one day.
type Selection struct {
	Scene catalog.Scene
	// Candidates is the number of scenes seen for the day.
	Candidates int
}

// SelectPerDate returns one scene per UTC calendar day in ascending date order.
func SelectPerDate(scenes []catalog.Scene, policy Policy) []Selection {
	byDate := make(map[string]*Selection)
	var dates []string

	for _, s := range scenes {
		d := s.Date()
		cur, ok := byDate[d]
		if !ok {
			byDate[d] = &Selection{Scene: s, Candidates: 1}
			dates = append(dates, d)
			continue
		}
		cur.Candidates++
		if prefer(s, cur.Scene, policy) {
			cur.Scene = s
		}
	}

	sort.Strings(dates)
	out := make([]Selection, 0, len(dates))
	for _, d := range dates {
		out = append(out, *byDate[d])
	}
	return out
}

// prefer reports whether candidate replaces current under policy. Ties keep
// current, so catalog order decides among equals.
func prefer(candidate, current catalog.Scene, policy Policy) bool {
	switch policy {
	case LeastRecent:
		return candidate.Datetime.Before(current.Datetime)
	case MostRecent:
		return candidate.Datetime.After(current.Datetime)
	case LeastCC:
		return cloudCover(candidate) < cloudCover(current)
	}
	return false
}

func cloudCover(s catalog.Scene) float64 {
	if s.CloudCover == nil {
		return 100
	}
	return *s.CloudCover
}
