package seed

import (
	"time"

	"github.com/joshsymonds/convseed/internal/circuit"
)

// Report summarizes one run.
type Report struct {
	RunID              string                `json:"run_id"`
	StartedAt          time.Time             `json:"started_at"`
	Duration           time.Duration         `json:"duration"`
	DryRun             bool                  `json:"dry_run"`
	Admin              string                `json:"admin"`
	Users              int                   `json:"users"`
	UserPool           []string              `json:"user_pool,omitempty"`
	Files              int                   `json:"files"`
	FileBytes          int64                 `json:"file_bytes"`
	OpenConversations  int                   `json:"open_conversations"`
	GroupConversations int                   `json:"group_conversations"`
	Posts              int                   `json:"posts"`
	Replies            int                   `json:"replies"`
	Likes              int                   `json:"likes"`
	Flags              int                   `json:"flags"`
	EventsObserved     int                   `json:"events_observed"`
	Phases             []PhaseResult         `json:"phases"`
	Conversations      []ConversationSummary `json:"conversations"`
}

type PhaseResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

type ConversationSummary struct {
	ID           circuit.ConvID   `json:"conv_id"`
	Kind         circuit.ConvKind `json:"kind"`
	Topic        string           `json:"topic,omitempty"`
	Participants int              `json:"participants"`
	Posts        int              `json:"posts"`
	Messages     int              `json:"messages"`
}

func (r *Report) fill(states []ConversationState) {
	r.Conversations = r.Conversations[:0]
	r.OpenConversations, r.GroupConversations = 0, 0
	r.Posts, r.Replies = 0, 0
	for _, st := range states {
		switch st.Conversation.Kind {
		case circuit.KindOpen:
			r.OpenConversations++
		case circuit.KindGroup:
			r.GroupConversations++
		}
		r.Posts += len(st.Posts)
		r.Replies += len(st.Messages) - len(st.Posts)
		r.Conversations = append(r.Conversations, ConversationSummary{
			ID:           st.Conversation.ID,
			Kind:         st.Conversation.Kind,
			Topic:        st.Conversation.Topic,
			Participants: len(st.Conversation.Participants),
			Posts:        len(st.Posts),
			Messages:     len(st.Messages),
		})
	}
}
