package domain

import (
	"fmt"
	"sort"
)

// Topics group every event of one aggregate family so that all events for a
// given aggregate id land on the same ordered partition.
const (
	TopicContent    = "content"
	TopicCategory   = "category"
	TopicComment    = "comment"
	TopicUser       = "user"
	TopicEngagement = "engagement"
)

const (
	ContentCreated  = "content-created"
	ContentUpdated  = "content-updated"
	ContentDeleted  = "content-deleted"
	CategoryCreated = "category-created"
	CategoryUpdated = "category-updated"
	CategoryDeleted = "category-deleted"
	CommentCreated  = "comment-created"
	CommentReplied  = "comment-replied"
	CommentUpdated  = "comment-updated"
	CommentDeleted  = "comment-deleted"
	UserCreated     = "user-created"
	UserUpdated     = "user-updated"
	UserDeleted     = "user-deleted"
	UserFollowed    = "user-followed"
	UserMentioned   = "user-mentioned"
	ContentViewed   = "content-viewed"
	ContentLiked    = "content-liked"
	ContentShared   = "content-shared"
	SearchPerformed = "search-performed"
)

// Catalog lists the event types each topic may carry.
var Catalog = map[string][]string{
	TopicContent:    {ContentCreated, ContentUpdated, ContentDeleted},
	TopicCategory:   {CategoryCreated, CategoryUpdated, CategoryDeleted},
	TopicComment:    {CommentCreated, CommentReplied, CommentUpdated, CommentDeleted},
	TopicUser:       {UserCreated, UserUpdated, UserDeleted},
	TopicEngagement: {UserFollowed, UserMentioned, ContentViewed, ContentLiked, ContentShared, SearchPerformed},
}

var topicByType = func() map[string]string {
	m := make(map[string]string)
	for topic, types := range Catalog {
		for _, t := range types {
			m[t] = topic
		}
	}
	return m
}()

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType string) (string, bool) {
	t, ok := topicByType[eventType]
	return t, ok
}

// Validate reports whether eventType belongs to topic.
func Validate(topic, eventType string) error {
	t, ok := topicByType[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	if t != topic {
		return fmt.Errorf("event type %q belongs to topic %q, not %q", eventType, t, topic)
	}
	return nil
}

// Topics returns every catalog topic in stable order.
func Topics() []string {
	out := make([]string, 0, len(Catalog))
	for t := range Catalog {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
