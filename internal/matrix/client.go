// Package matrix connects the bot to a Matrix homeserver: it logs in with a
// password, turns room text messages into inbound events and sends reactions
// as m.reaction annotations.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"spendbot/internal/core"
	"spendbot/internal/log"
)

var ErrNotSyncing = errors.New("matrix sync not running")

type Config struct {
	Homeserver string
	UserID     string
	Password   string
}

// Dispatcher accepts inbound events; Dispatch may block to push back on the
// sync loop.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev core.InboundEvent) error
}

type Client struct {
	cli     *mautrix.Client
	cfg     Config
	started time.Time
	syncing atomic.Bool
	logger  *log.Logger
}

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), "")
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return &Client{
		cli:    cli,
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentMatrix),
	}, nil
}

// UserID is the bot's own Matrix id, used to ignore its own messages.
func (c *Client) UserID() string {
	return c.cfg.UserID
}

// Login authenticates with the configured password and stores the access token.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.cli.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.cfg.UserID,
		},
		Password:                 c.cfg.Password,
		InitialDeviceDisplayName: "spendbot",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login as %s: %w", c.cfg.UserID, err)
	}
	c.logger.InfoContext(ctx, "Logged in to homeserver",
		"homeserver", c.cfg.Homeserver,
		"user_id", string(resp.UserID),
		"device_id", string(resp.DeviceID))
	return nil
}

// Run syncs until ctx is done, handing every text message to dispatcher and
// joining rooms the bot is invited to. Events sent before Run started are
// skipped so the initial sync does not replay history.
func (c *Client) Run(ctx context.Context, dispatcher Dispatcher) error {
	c.started = time.Now()

	syncer, ok := c.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type %T", c.cli.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.onMessage(ctx, evt, dispatcher)
	})
	syncer.OnEventType(event.StateMember, c.onMember)

	c.syncing.Store(true)
	defer c.syncing.Store(false)

	c.logger.InfoContext(ctx, "Starting sync", log.FieldOperation, log.OpStartup)
	err := c.cli.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync: %w", err)
	}
	return nil
}

// Ready reports whether the sync loop is running.
func (c *Client) Ready(ctx context.Context) error {
	if !c.syncing.Load() {
		return ErrNotSyncing
	}
	return nil
}

// React annotates eventID in roomID with reaction.
func (c *Client) React(ctx context.Context, roomID, eventID, reaction string) error {
	_, err := c.cli.SendReaction(ctx, id.RoomID(roomID), id.EventID(eventID), reaction)
	if err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

func (c *Client) onMessage(ctx context.Context, evt *event.Event, dispatcher Dispatcher) {
	ev, ok := toInboundEvent(evt, c.started)
	if !ok {
		return
	}
	if err := dispatcher.Dispatch(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "Event not dispatched",
			log.FieldEventID, ev.EventID,
			log.FieldRoomID, ev.RoomID,
			log.FieldError, err)
	}
}

func (c *Client) onMember(ctx context.Context, evt *event.Event) {
	if !isInviteFor(evt, c.cli.UserID) {
		return
	}
	if _, err := c.cli.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.logger.ErrorContext(ctx, "Failed to join room",
			log.FieldRoomID, string(evt.RoomID),
			log.FieldError, err)
		return
	}
	c.logger.InfoContext(ctx, "Joined room after invite",
		log.FieldRoomID, string(evt.RoomID),
		log.FieldSender, string(evt.Sender))
}

// toInboundEvent keeps plain text messages sent at or after since. Edits are
// dropped so a corrected message is not submitted twice.
func toInboundEvent(evt *event.Event, since time.Time) (core.InboundEvent, bool) {
	if evt == nil || evt.Type.Type != event.EventMessage.Type {
		return core.InboundEvent{}, false
	}
	sent := time.UnixMilli(evt.Timestamp)
	if !since.IsZero() && sent.Before(since) {
		return core.InboundEvent{}, false
	}
	content := evt.Content.AsMessage()
	if content.MsgType != event.MsgText {
		return core.InboundEvent{}, false
	}
	if content.RelatesTo.GetReplaceID() != "" {
		return core.InboundEvent{}, false
	}
	return core.InboundEvent{
		RoomID:     string(evt.RoomID),
		Sender:     string(evt.Sender),
		Body:       content.Body,
		EventID:    string(evt.ID),
		Source:     core.SourceMatrix,
		ReceivedAt: sent,
	}, true
}

func isInviteFor(evt *event.Event, self id.UserID) bool {
	if evt == nil || evt.Type.Type != event.StateMember.Type {
		return false
	}
	if evt.GetStateKey() != string(self) {
		return false
	}
	return evt.Content.AsMember().Membership == event.MembershipInvite
}
