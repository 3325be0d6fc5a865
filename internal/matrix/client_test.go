package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"spendbot/internal/core"
)

func messageEvent(body string, msgType event.MessageType, sent time.Time) *event.Event {
	return &event.Event{
		Type:      event.EventMessage,
		ID:        id.EventID("$abc"),
		RoomID:    id.RoomID("!room:example.org"),
		Sender:    id.UserID("@alice:example.org"),
		Timestamp: sent.UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: msgType,
			Body:    body,
		}},
	}
}

func TestToInboundEvent(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("text message after start", func(t *testing.T) {
		ev, ok := toInboundEvent(messageEvent("$spend 5 on tea.", event.MsgText, start.Add(time.Second)), start)

		require.True(t, ok)
		assert.Equal(t, core.InboundEvent{
			RoomID:     "!room:example.org",
			Sender:     "@alice:example.org",
			Body:       "$spend 5 on tea.",
			EventID:    "$abc",
			Source:     core.SourceMatrix,
			ReceivedAt: time.UnixMilli(start.Add(time.Second).UnixMilli()),
		}, ev)
	})

	t.Run("backlog before start is skipped", func(t *testing.T) {
		_, ok := toInboundEvent(messageEvent("$spend 5 on tea.", event.MsgText, start.Add(-time.Minute)), start)
		assert.False(t, ok)
	})

	t.Run("non-text messages are skipped", func(t *testing.T) {
		for _, mt := range []event.MessageType{event.MsgNotice, event.MsgImage, event.MsgEmote} {
			_, ok := toInboundEvent(messageEvent("$spend 5 on tea.", mt, start), start)
			assert.False(t, ok, mt)
		}
	})

	t.Run("edits are skipped", func(t *testing.T) {
		evt := messageEvent("* $spend 6 on tea.", event.MsgText, start)
		evt.Content.Parsed.(*event.MessageEventContent).RelatesTo = &event.RelatesTo{
			Type:    event.RelReplace,
			EventID: id.EventID("$original"),
		}
		_, ok := toInboundEvent(evt, start)
		assert.False(t, ok)
	})

	t.Run("other event types are skipped", func(t *testing.T) {
		evt := messageEvent("x", event.MsgText, start)
		evt.Type = event.EventReaction
		_, ok := toInboundEvent(evt, start)
		assert.False(t, ok)

		_, ok = toInboundEvent(nil, start)
		assert.False(t, ok)
	})
}

func TestIsInviteFor(t *testing.T) {
	self := id.UserID("@spendbot:example.org")
	member := func(stateKey string, membership event.Membership) *event.Event {
		return &event.Event{
			Type:     event.StateMember,
			StateKey: &stateKey,
			RoomID:   id.RoomID("!room:example.org"),
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
		}
	}

	assert.True(t, isInviteFor(member(string(self), event.MembershipInvite), self))
	assert.False(t, isInviteFor(member("@other:example.org", event.MembershipInvite), self))
	assert.False(t, isInviteFor(member(string(self), event.MembershipJoin), self))
	assert.False(t, isInviteFor(nil, self))
}

func TestClient_ReadyBeforeRun(t *testing.T) {
	c, err := NewClient(Config{Homeserver: "https://matrix.example.org", UserID: "@spendbot:example.org"}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Ready(context.Background()), ErrNotSyncing)
	assert.Equal(t, "@spendbot:example.org", c.UserID())
}
