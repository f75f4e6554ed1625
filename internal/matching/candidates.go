package matching

import (
	"cmp"
	"slices"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/store"
)

// Candidate is an applicant being ranked for a job.
type Candidate struct {
	Seeker *store.Seeker  `json:"seeker"`
	Score  *ai.MatchScore `json:"score,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (c *Candidate) ID() string {
	if c == nil || c.Seeker == nil {
		return ""
	}
	return c.Seeker.ID
}

type Candidates struct {
	Items []*Candidate `json:"items"`
}

func NewCandidates(seekers []*store.Seeker) *Candidates {
	items := make([]*Candidate, 0, len(seekers))
	for _, s := range seekers {
		if s == nil {
			continue
		}
		items = append(items, &Candidate{Seeker: s})
	}
	return &Candidates{Items: items}
}

func (c *Candidates) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// Exclude removes candidates matching drop and returns their seeker ids.
func (c *Candidates) Exclude(drop func(*Candidate) bool) []string {
	excluded := make([]string, 0)
	kept := c.Items[:0]
	for _, candidate := range c.Items {
		if drop(candidate) {
			excluded = append(excluded, candidate.ID())
			continue
		}
		kept = append(kept, candidate)
	}
	clear(c.Items[len(kept):])
	c.Items = kept
	return excluded
}

// SortByScore orders candidates by score, highest first. Unscored candidates go last.
func (c *Candidates) SortByScore() {
	if c == nil {
		return
	}
	slices.SortStableFunc(c.Items, func(a, b *Candidate) int {
		switch {
		case a.Score == nil && b.Score == nil:
			return 0
		case a.Score == nil:
			return 1
		case b.Score == nil:
			return -1
		}
		return cmp.Compare(b.Score.Score, a.Score.Score)
	})
}
