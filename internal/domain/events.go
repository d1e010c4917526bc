package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the envelope every service publishes for a committed mutation.
// It is never modified after publish.
type Event struct {
	ID                 string          `json:"id"`
	Topic              string          `json:"topic"`
	Type               string          `json:"type"`
	AggregateID        string          `json:"aggregateId"`
	Version            int64           `json:"version"`
	Payload            json.RawMessage `json:"payload"`
	ProducedAt         time.Time       `json:"producedAt"`
	ProducerInstanceID string          `json:"producerInstanceId"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DecodeEvent parses a raw bus message into an Event and checks the fields
// consumers rely on for deduplication.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if ev.AggregateID == "" || ev.Type == "" || ev.Topic == "" {
		return Event{}, fmt.Errorf("envelope %q missing topic, type or aggregate id", ev.ID)
	}
	if ev.Version <= 0 {
		return Event{}, fmt.Errorf("envelope %q has non-positive version %d", ev.ID, ev.Version)
	}
	return ev, nil
}

// ContentPayload is carried by content-* events.
type ContentPayload struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Body               string    `json:"body,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	AuthorID           string    `json:"authorId"`
	CategoryID         string    `json:"categoryId,omitempty"`
	PreviousCategoryID string    `json:"previousCategoryId,omitempty"`
	Status             string    `json:"status,omitempty"`
	Visibility         string    `json:"visibility,omitempty"`
	PublishedAt        time.Time `json:"publishedAt,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// CategoryPayload is carried by category-* events.
type CategoryPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug,omitempty"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	Order       int       `json:"order"`
	IsActive    bool      `json:"isActive"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CommentPayload is carried by comment-* events.
type CommentPayload struct {
	ID              string    `json:"id"`
	ContentID       string    `json:"contentId"`
	ParentID        string    `json:"parentId,omitempty"`
	AuthorID        string    `json:"authorId"`
	AuthorName      string    `json:"authorName,omitempty"`
	ContentAuthorID string    `json:"contentAuthorId,omitempty"`
	ParentAuthorID  string    `json:"parentAuthorId,omitempty"`
	Body            string    `json:"body"`
	Edited          bool      `json:"edited,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UserPayload is carried by user-created/updated/deleted events.
type UserPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

// EngagementPayload is carried by engagement topic events. Which fields are
// set depends on the event type.
type EngagementPayload struct {
	UserID          string  `json:"userId"`
	UserName        string  `json:"userName,omitempty"`
	ContentID       string  `json:"contentId,omitempty"`
	AuthorID        string  `json:"authorId,omitempty"`
	CategoryID      string  `json:"categoryId,omitempty"`
	FollowedID      string  `json:"followedId,omitempty"`
	MentionedUserID string  `json:"mentionedUserId,omitempty"`
	CommentID       string  `json:"commentId,omitempty"`
	SearchQuery     string  `json:"searchQuery,omitempty"`
	Device          string  `json:"device,omitempty"`
	Country         string  `json:"country,omitempty"`
	Referrer        string  `json:"referrer,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}
