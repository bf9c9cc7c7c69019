package content

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/files"
)

// attachmentOdds is the denominator for attachment choices: one in N picks a
// single file, one in N picks a random subset, the rest attach nothing.
const attachmentOdds = 7

// ErrPoolTooSmall is returned when a recipient set cannot reach its minimum size.
var ErrPoolTooSmall = errors.New("user pool too small")

// Selector makes the unweighted random choices behind seeded content.
// It is not safe for concurrent use; the orchestrator builds every request of
// a batch before dispatching it.
type Selector struct {
	rng    *rand.Rand
	pool   Pool
	users  []circuit.User
	caller circuit.UserID
	files  []files.Ref
}

// NewSelector builds a selector. caller is left out of every recipient set.
// A nil rng seeds a fresh PCG source.
func NewSelector(rng *rand.Rand, pool Pool, users []circuit.User, caller circuit.UserID, fileRefs []files.Ref) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) // #nosec G404 -- demo data, not security
	}
	return &Selector{
		rng:    rng,
		pool:   pool,
		users:  append([]circuit.User(nil), users...),
		caller: caller,
		files:  append([]files.Ref(nil), fileRefs...),
	}
}

// Between returns a uniform integer in [lo, hi]. Bounds are swapped if reversed.
func (s *Selector) Between(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

// Chance reports true with probability p.
func (s *Selector) Chance(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return s.rng.Float64() < p
}

// TextContent returns one of the pool text variants, uniformly.
func (s *Selector) TextContent() string {
	variants := s.pool.Variants()
	return variants[s.rng.IntN(len(variants))]
}

// Subject returns the pool subject or "" for no subject, evenly.
func (s *Selector) Subject() string {
	if s.rng.IntN(2) == 0 {
		return ""
	}
	return s.pool.Text.Subject
}

// RecipientSubset picks between min and len(users)-1 distinct users, never
// the caller, in random order.
func (s *Selector) RecipientSubset(min int) ([]circuit.UserID, error) {
	if min < 0 {
		min = 0
	}
	maxSize := len(s.users) - 1
	if maxSize < min {
		return nil, fmt.Errorf("%w: need more than %d users, have %d", ErrPoolTooSmall, min, len(s.users))
	}
	candidates := make([]circuit.UserID, 0, len(s.users))
	for _, u := range s.users {
		if u.ID == s.caller {
			continue
		}
		candidates = append(candidates, u.ID)
	}
	if len(candidates) < min {
		return nil, fmt.Errorf("%w: need %d recipients besides the caller, have %d", ErrPoolTooSmall, min, len(candidates))
	}
	if maxSize > len(candidates) {
		maxSize = len(candidates)
	}
	n := s.Between(min, maxSize)
	s.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:n], nil
}

// Attachments returns a single file, a random subset, or nothing.
func (s *Selector) Attachments() []files.Ref {
	if len(s.files) == 0 {
		return nil
	}
	switch s.rng.IntN(attachmentOdds) {
	case 0:
		return []files.Ref{s.files[s.rng.IntN(len(s.files))]}
	case 1:
		n := s.Between(0, len(s.files)-1)
		perm := s.rng.Perm(len(s.files))
		out := make([]files.Ref, 0, n)
		for _, idx := range perm[:n] {
			out = append(out, s.files[idx])
		}
		return out
	default:
		return nil
	}
}

// ParentPost picks an existing post to reply to. ok is false when there are none.
func (s *Selector) ParentPost(posts []circuit.Item) (circuit.ItemID, bool) {
	if len(posts) == 0 {
		return "", false
	}
	return posts[s.rng.IntN(len(posts))].ID, true
}
