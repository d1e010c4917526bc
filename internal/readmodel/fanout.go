package readmodel

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"vlog-platform/internal/domain"
)

// FanoutRule describes how one inbound event becomes a notification.
// Field names refer to keys of the event payload.
type FanoutRule struct {
	Kind      string
	Recipient string
	Sender    string
	RefType   string
	RefField  string
	Message   *template.Template
}

func message(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

// FanoutRules is the static notification table keyed by event type.
var FanoutRules = map[string]FanoutRule{
	domain.UserFollowed: {
		Kind: "follow", Recipient: "followedId", Sender: "userId", RefType: "user", RefField: "userId",
		Message: message("follow", `{{with .userName}}{{.}}{{else}}Someone{{end}} started following you`),
	},
	domain.ContentLiked: {
		Kind: "like", Recipient: "authorId", Sender: "userId", RefType: "content", RefField: "contentId",
		Message: message("like", `{{with .userName}}{{.}}{{else}}Someone{{end}} liked your content`),
	},
	domain.CommentCreated: {
		Kind: "comment", Recipient: "contentAuthorId", Sender: "authorId", RefType: "content", RefField: "contentId",
		Message: message("comment", `{{with .authorName}}{{.}}{{else}}Someone{{end}} commented on your content`),
	},
	domain.CommentReplied: {
		Kind: "reply", Recipient: "parentAuthorId", Sender: "authorId", RefType: "comment", RefField: "parentId",
		Message: message("reply", `{{with .authorName}}{{.}}{{else}}Someone{{end}} replied to your comment`),
	},
	domain.UserMentioned: {
		Kind: "mention", Recipient: "mentionedUserId", Sender: "userId", RefType: "comment", RefField: "commentId",
		Message: message("mention", `{{with .userName}}{{.}}{{else}}Someone{{end}} mentioned you in a comment`),
	},
}

// NotificationID is stable for an event so redelivery rewrites the same row.
func NotificationID(ev domain.Event) string {
	return fmt.Sprintf("%s:%s:%d", ev.Type, ev.AggregateID, ev.Version)
}

// Fanout turns ev into a notification. It returns false when no rule
// matches, the recipient is unknown, or the actor would notify themself.
func Fanout(ev domain.Event) (domain.Notification, bool, error) {
	rule, ok := FanoutRules[ev.Type]
	if !ok {
		return domain.Notification{}, false, nil
	}
	var data map[string]any
	if err := json.Unmarshal(ev.Payload, &data); err != nil {
		return domain.Notification{}, false, fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	recipient := str(data, rule.Recipient)
	sender := str(data, rule.Sender)
	if recipient == "" || recipient == sender {
		return domain.Notification{}, false, nil
	}

	var msg strings.Builder
	if err := rule.Message.Execute(&msg, data); err != nil {
		return domain.Notification{}, false, fmt.Errorf("render %s message: %w", rule.Kind, err)
	}
	return domain.Notification{
		ID:          NotificationID(ev),
		RecipientID: recipient,
		SenderID:    sender,
		Kind:        rule.Kind,
		Message:     msg.String(),
		RefType:     rule.RefType,
		RefID:       str(data, rule.RefField),
		CreatedAt:   ev.ProducedAt.UTC(),
	}, true, nil
}

// FanoutTypes lists the event types with a rule.
func FanoutTypes() []string {
	out := make([]string, 0, len(FanoutRules))
	for t := range FanoutRules {
		out = append(out, t)
	}
	return out
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
