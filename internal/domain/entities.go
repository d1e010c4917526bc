package domain

import "time"

// Content is the primary record owned by the content service.
type Content struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Body        string    `json:"body,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	AuthorID    string    `json:"authorId"`
	CategoryID  string    `json:"categoryId,omitempty"`
	Status      string    `json:"status,omitempty"`
	Visibility  string    `json:"visibility,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int64     `json:"version"`
}

// ContentPatch carries partial updates for content. Nil fields are left
// untouched.
type ContentPatch struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Body        *string   `json:"body"`
	Tags        *[]string `json:"tags"`
	CategoryID  *string   `json:"categoryId"`
	Status      *string   `json:"status"`
	Visibility  *string   `json:"visibility"`
}

// Payload converts content into its event payload.
func (c Content) Payload() ContentPayload {
	return ContentPayload{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Body:        c.Body,
		Tags:        c.Tags,
		AuthorID:    c.AuthorID,
		CategoryID:  c.CategoryID,
		Status:      c.Status,
		Visibility:  c.Visibility,
		PublishedAt: c.PublishedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Category is the primary record owned by the category service.
type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug,omitempty"`
	Description  string    `json:"description,omitempty"`
	ParentID     string    `json:"parentId,omitempty"`
	Order        int       `json:"order"`
	IsActive     bool      `json:"isActive"`
	ContentCount int64     `json:"contentCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      int64     `json:"version"`
}

// CategoryPatch carries partial updates for a category.
type CategoryPatch struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	ParentID    *string `json:"parentId"`
	Order       *int    `json:"order"`
	IsActive    *bool   `json:"isActive"`
}

// Payload converts a category into its event payload.
func (c Category) Payload() CategoryPayload {
	return CategoryPayload{
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		ParentID:    c.ParentID,
		Order:       c.Order,
		IsActive:    c.IsActive,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Comment is the primary record owned by the comment service.
type Comment struct {
	ID              string    `json:"id"`
	ContentID       string    `json:"contentId"`
	ParentID        string    `json:"parentId,omitempty"`
	AuthorID        string    `json:"authorId"`
	AuthorName      string    `json:"authorName,omitempty"`
	ContentAuthorID string    `json:"contentAuthorId,omitempty"`
	ParentAuthorID  string    `json:"parentAuthorId,omitempty"`
	Body            string    `json:"body"`
	Edited          bool      `json:"edited,omitempty"`
	Deleted         bool      `json:"deleted,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Version         int64     `json:"version"`
}

// Payload converts a comment into its event payload.
func (c Comment) Payload() CommentPayload {
	return CommentPayload{
		ID:              c.ID,
		ContentID:       c.ContentID,
		ParentID:        c.ParentID,
		AuthorID:        c.AuthorID,
		AuthorName:      c.AuthorName,
		ContentAuthorID: c.ContentAuthorID,
		ParentAuthorID:  c.ParentAuthorID,
		Body:            c.Body,
		Edited:          c.Edited,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// Notification is a fan-out record addressed to a single recipient.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	SenderID    string    `json:"senderId"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	RefType     string    `json:"refType"`
	RefID       string    `json:"refId"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AnalyticsEvent is a single recorded engagement.
type AnalyticsEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	UserID     string    `json:"userId"`
	ContentID  string    `json:"contentId,omitempty"`
	CategoryID string    `json:"categoryId,omitempty"`
	Device     string    `json:"device,omitempty"`
	Country    string    `json:"country,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	Query      string    `json:"query,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AnalyticsSummary aggregates recorded engagements per kind.
type AnalyticsSummary struct {
	Subject string         `json:"subject"`
	ID      string         `json:"id"`
	Counts  map[string]int `json:"counts"`
	Total   int            `json:"total"`
}
