package circuit

import (
	"fmt"
	"time"

	"github.com/joshsymonds/convseed/internal/files"
)

type UserID string
type ConvID string
type ItemID string

// ConvKind distinguishes the two conversation flavours we create.
type ConvKind string

const (
	KindOpen  ConvKind = "open"
	KindGroup ConvKind = "group"
)

// ItemType mirrors the Circuit item type field; only TEXT items are seeded.
type ItemType string

const (
	ItemText   ItemType = "TEXT"
	ItemSystem ItemType = "SYSTEM"
)

// ContentType tells the backend how to render a text item. Seeded items are
// always rich text.
type ContentType string

const ContentRich ContentType = "RICH"

type User struct {
	ID          UserID `json:"userId"`
	Email       string `json:"emailAddress"`
	DisplayName string `json:"displayName,omitempty"`
}

type Conversation struct {
	ID           ConvID   `json:"convId"`
	Kind         ConvKind `json:"kind"`
	Topic        string   `json:"topic,omitempty"`
	Participants []UserID `json:"participants"`
}

type Item struct {
	ID          ItemID    `json:"itemId"`
	ConvID      ConvID    `json:"convId"`
	ParentID    ItemID    `json:"parentItemId,omitempty"`
	Type        ItemType  `json:"type"`
	Subject     string    `json:"subject,omitempty"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"` // remote file ids
	CreatedAt   time.Time `json:"creationTime"`
}

// IsReply reports whether the item was posted under a parent item.
func (i Item) IsReply() bool { return i.ParentID != "" }

// TextItem is the payload for AddTextItem. An empty ParentID posts a new thread.
type TextItem struct {
	Subject     string
	Content     string
	ContentType ContentType
	ParentID    ItemID
	Attachments []files.Ref
}

// ItemAddedEvent is delivered for every item the event stream reports.
type ItemAddedEvent struct {
	Item Item
}

// APIError is returned for any non-2xx response from the backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
