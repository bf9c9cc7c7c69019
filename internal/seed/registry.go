package seed

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joshsymonds/convseed/internal/circuit"
)

// ConversationState is a created conversation plus everything posted into it.
// Messages holds posts and replies in creation order.
type ConversationState struct {
	Conversation circuit.Conversation
	Posts        []circuit.Item
	Messages     []circuit.Item
}

// Registry tracks the conversations this run created, keyed by id. Writes
// come from the orchestrator between batches; the event handler only reads.
type Registry struct {
	mu    sync.RWMutex
	convs map[circuit.ConvID]*ConversationState
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{convs: map[circuit.ConvID]*ConversationState{}}
}

// Add registers a conversation. Ids must be non-empty and unique.
func (r *Registry) Add(c circuit.Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("conversation without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[c.ID]; ok {
		return fmt.Errorf("duplicate conversation id %s", c.ID)
	}
	r.convs[c.ID] = &ConversationState{Conversation: c}
	return nil
}

// Has reports whether id was created by this run.
func (r *Registry) Has(id circuit.ConvID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.convs[id]
	return ok
}

// Len returns the number of registered conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.convs)
}

// AddPost appends a top-level item to both the post and message lists.
func (r *Registry) AddPost(id circuit.ConvID, item circuit.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.convs[id]
	if !ok {
		return fmt.Errorf("post into unknown conversation %s", id)
	}
	st.Posts = append(st.Posts, item)
	st.Messages = append(st.Messages, item)
	return nil
}

// AddReply appends a reply to the message list only.
func (r *Registry) AddReply(id circuit.ConvID, item circuit.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.convs[id]
	if !ok {
		return fmt.Errorf("reply into unknown conversation %s", id)
	}
	st.Messages = append(st.Messages, item)
	return nil
}

// Snapshot returns copies of every conversation ordered by id.
func (r *Registry) Snapshot() []ConversationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConversationState, 0, len(r.convs))
	for _, st := range r.convs {
		out = append(out, ConversationState{
			Conversation: st.Conversation,
			Posts:        append([]circuit.Item(nil), st.Posts...),
			Messages:     append([]circuit.Item(nil), st.Messages...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conversation.ID < out[j].Conversation.ID })
	return out
}
