package readmodel

import (
	"encoding/json"
	"testing"
	"time"

	"vlog-platform/internal/domain"
)

func fanoutEvent(t *testing.T, eventType, aggregateID string, version int64, payload any) domain.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	topic, _ := domain.TopicFor(eventType)
	return domain.Event{ID: "e1", Topic: topic, Type: eventType, AggregateID: aggregateID, Version: version, Payload: raw, ProducedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestFanoutLikeNotifiesAuthor(t *testing.T) {
	ev := fanoutEvent(t, domain.ContentLiked, "c1", 3, domain.EngagementPayload{UserID: "u2", UserName: "Bob", ContentID: "c1", AuthorID: "u1"})

	n, ok, err := Fanout(ev)
	if err != nil || !ok {
		t.Fatalf("expected notification, ok=%v err=%v", ok, err)
	}
	want := domain.Notification{
		ID:          "content-liked:c1:3",
		RecipientID: "u1",
		SenderID:    "u2",
		Kind:        "like",
		Message:     "Bob liked your content",
		RefType:     "content",
		RefID:       "c1",
		CreatedAt:   ev.ProducedAt,
	}
	if n != want {
		t.Fatalf("unexpected notification:\n got %#v\nwant %#v", n, want)
	}
}

func TestFanoutRules(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   any
		recipient string
		kind      string
		refID     string
		message   string
	}{
		{
			name: "follow", eventType: domain.UserFollowed,
			payload:   domain.EngagementPayload{UserID: "u2", UserName: "Bob", FollowedID: "u1"},
			recipient: "u1", kind: "follow", refID: "u2", message: "Bob started following you",
		},
		{
			name: "comment", eventType: domain.CommentCreated,
			payload:   domain.CommentPayload{ID: "cm1", ContentID: "c1", AuthorID: "u3", AuthorName: "Cy", ContentAuthorID: "u1"},
			recipient: "u1", kind: "comment", refID: "c1", message: "Cy commented on your content",
		},
		{
			name: "reply", eventType: domain.CommentReplied,
			payload:   domain.CommentPayload{ID: "cm2", ContentID: "c1", ParentID: "cm1", AuthorID: "u1", ParentAuthorID: "u3"},
			recipient: "u3", kind: "reply", refID: "cm1", message: "Someone replied to your comment",
		},
		{
			name: "mention", eventType: domain.UserMentioned,
			payload:   domain.EngagementPayload{UserID: "u2", UserName: "Bob", MentionedUserID: "u4", CommentID: "cm9"},
			recipient: "u4", kind: "mention", refID: "cm9", message: "Bob mentioned you in a comment",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := Fanout(fanoutEvent(t, tt.eventType, "agg", 1, tt.payload))
			if err != nil || !ok {
				t.Fatalf("expected notification, ok=%v err=%v", ok, err)
			}
			if n.RecipientID != tt.recipient || n.Kind != tt.kind || n.RefID != tt.refID || n.Message != tt.message {
				t.Fatalf("unexpected notification: %#v", n)
			}
		})
	}
}

func TestFanoutSkipsSelfAndUnknown(t *testing.T) {
	self := fanoutEvent(t, domain.ContentLiked, "c1", 1, domain.EngagementPayload{UserID: "u1", ContentID: "c1", AuthorID: "u1"})
	if _, ok, err := Fanout(self); ok || err != nil {
		t.Fatalf("self notification should be skipped, ok=%v err=%v", ok, err)
	}
	noRecipient := fanoutEvent(t, domain.CommentCreated, "cm1", 1, domain.CommentPayload{ID: "cm1", AuthorID: "u1"})
	if _, ok, _ := Fanout(noRecipient); ok {
		t.Fatalf("missing recipient should be skipped")
	}
	viewed := fanoutEvent(t, domain.ContentViewed, "c1", 1, domain.EngagementPayload{UserID: "u1"})
	if _, ok, _ := Fanout(viewed); ok {
		t.Fatalf("content-viewed has no rule")
	}
}

func TestFanoutIDIsStableAcrossRedelivery(t *testing.T) {
	ev := fanoutEvent(t, domain.UserFollowed, "u2", 5, domain.EngagementPayload{UserID: "u2", FollowedID: "u1"})
	a, _, _ := Fanout(ev)
	ev.ID = "redelivered"
	b, _, _ := Fanout(ev)
	if a.ID != b.ID {
		t.Fatalf("ids differ: %s vs %s", a.ID, b.ID)
	}
}

func TestFanoutRejectsBadPayload(t *testing.T) {
	ev := domain.Event{Type: domain.ContentLiked, Payload: json.RawMessage(`[1,2]`)}
	if _, _, err := Fanout(ev); err == nil {
		t.Fatalf("expected decode error")
	}
}
