package content

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/files"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func makeUsers(n int) []circuit.User {
	users := make([]circuit.User, n)
	for i := range users {
		users[i] = circuit.User{
			ID:    circuit.UserID(fmt.Sprintf("u%d", i)),
			Email: fmt.Sprintf("user%d@example.com", i),
		}
	}
	return users
}

func TestTextContentAlwaysAVariant(t *testing.T) {
	pool := DefaultPool()
	s := NewSelector(seeded(), pool, nil, "", nil)
	seen := map[string]int{}
	for i := 0; i < 3000; i++ {
		got := s.TextContent()
		require.NotEmpty(t, got)
		require.Contains(t, pool.Variants(), got)
		seen[got]++
	}
	assert.Len(t, seen, 3, "every variant should appear")
}

func TestSubjectIsPoolSubjectOrNone(t *testing.T) {
	pool := DefaultPool()
	s := NewSelector(seeded(), pool, nil, "", nil)
	var with, without int
	for i := 0; i < 2000; i++ {
		switch s.Subject() {
		case "":
			without++
		case pool.Text.Subject:
			with++
		default:
			t.Fatalf("unexpected subject")
		}
	}
	assert.InDelta(t, 0.5, float64(with)/2000, 0.05)
	assert.Positive(t, without)
}

func TestRecipientSubsetBoundsAndUniqueness(t *testing.T) {
	users := makeUsers(8)
	tests := []struct {
		name   string
		caller circuit.UserID
		min    int
	}{
		{name: "open min zero", min: 0},
		{name: "group min two", min: 2},
		{name: "caller excluded", caller: "u3", min: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(seeded(), DefaultPool(), users, tt.caller, nil)
			sizes := map[int]bool{}
			for i := 0; i < 500; i++ {
				ids, err := s.RecipientSubset(tt.min)
				require.NoError(t, err)
				require.GreaterOrEqual(t, len(ids), tt.min)
				require.LessOrEqual(t, len(ids), len(users)-1)
				seen := map[circuit.UserID]bool{}
				for _, id := range ids {
					require.False(t, seen[id], "duplicate id %s", id)
					require.NotEqual(t, tt.caller, id)
					seen[id] = true
				}
				sizes[len(ids)] = true
			}
			assert.True(t, sizes[tt.min])
			assert.True(t, sizes[len(users)-1])
		})
	}
}

func TestRecipientSubsetOrderRandomized(t *testing.T) {
	users := makeUsers(6)
	s := NewSelector(seeded(), DefaultPool(), users, "", nil)
	firsts := map[circuit.UserID]bool{}
	for i := 0; i < 200; i++ {
		ids, err := s.RecipientSubset(5)
		require.NoError(t, err)
		firsts[ids[0]] = true
	}
	assert.Greater(t, len(firsts), 1)
}

func TestRecipientSubsetPoolTooSmall(t *testing.T) {
	s := NewSelector(seeded(), DefaultPool(), makeUsers(2), "", nil)
	_, err := s.RecipientSubset(2)
	require.True(t, errors.Is(err, ErrPoolTooSmall))

	s = NewSelector(seeded(), DefaultPool(), makeUsers(3), "u0", nil)
	_, err = s.RecipientSubset(2)
	require.NoError(t, err)
}

func TestAttachmentsEmptyPool(t *testing.T) {
	s := NewSelector(seeded(), DefaultPool(), nil, "", nil)
	for i := 0; i < 500; i++ {
		require.Empty(t, s.Attachments())
	}
}

func TestAttachmentsDistribution(t *testing.T) {
	refs := []files.Ref{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	s := NewSelector(seeded(), DefaultPool(), nil, "", refs)
	const n = 7000
	var none int
	for i := 0; i < n; i++ {
		got := s.Attachments()
		require.LessOrEqual(t, len(got), len(refs)-1)
		if len(got) == 0 {
			none++
		}
	}
	// 5/7 plus the empty random-subset draws (1/7 * 1/4)
	assert.InDelta(t, 5.0/7+1.0/28, float64(none)/n, 0.03)
}

func TestParentPost(t *testing.T) {
	s := NewSelector(seeded(), DefaultPool(), nil, "", nil)
	_, ok := s.ParentPost(nil)
	assert.False(t, ok)

	posts := []circuit.Item{{ID: "p1"}, {ID: "p2"}}
	for i := 0; i < 50; i++ {
		id, ok := s.ParentPost(posts)
		require.True(t, ok)
		require.Contains(t, []circuit.ItemID{"p1", "p2"}, id)
	}
}

func TestChanceConverges(t *testing.T) {
	s := NewSelector(seeded(), DefaultPool(), nil, "", nil)
	const n = 20000
	var hits int
	for i := 0; i < n; i++ {
		if s.Chance(0.3) {
			hits++
		}
	}
	assert.InDelta(t, 0.3, float64(hits)/n, 0.02)
	assert.False(t, s.Chance(0))
	assert.True(t, s.Chance(1))
}

func TestBetween(t *testing.T) {
	s := NewSelector(seeded(), DefaultPool(), nil, "", nil)
	for i := 0; i < 200; i++ {
		v := s.Between(2, 4)
		require.GreaterOrEqual(t, v, 2)
		require.LessOrEqual(t, v, 4)
	}
	assert.Equal(t, 3, s.Between(3, 3))
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.json")
	body := `{"text": {"short": "s", "long": "l", "rich": "<b>r</b>", "subject": "subj"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "l", "<b>r</b>"}, p.Variants())
	assert.Equal(t, "subj", p.Text.Subject)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("text:\n  short: only\n"), 0o600))
	_, err = Load(bad)
	require.ErrorIs(t, err, ErrIncompletePool)

	def, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPool(), def)
}
