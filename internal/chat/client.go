// Package chat wraps the collaboration-service API used for ceremony
// channels. All calls go through a narrow interface so tests can swap in a
// fake service.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/retry"
	"github.com/caracole/agentdeck/lru"
)

// API is the slice of the chat service client we depend on.
type API interface {
	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	UnArchiveConversationContext(ctx context.Context, channelID string) error
	InviteUsersToConversationContext(ctx context.Context, channelID string, users ...string) (*slack.Channel, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Channel is a provisioned chat channel.
type Channel struct {
	ID      string
	Name    string
	Created bool // true when this call created the channel
}

// Client provisions channels and posts messages. Channel name-to-id
// resolutions are cached; the cache must be pre-sized by the caller.
type Client struct {
	api      API
	teamID   string
	cache    *lru.Cache[string, string]
	retryCfg retry.Config
	logger   zerolog.Logger
}

// New creates a chat client from a bot token.
func New(token, teamID string, cache *lru.Cache[string, string], logger zerolog.Logger) *Client {
	return NewWithAPI(slack.New(token), teamID, cache, logger)
}

// NewWithAPI creates a chat client over an existing API implementation.
func NewWithAPI(api API, teamID string, cache *lru.Cache[string, string], logger zerolog.Logger) *Client {
	return &Client{
		api:      api,
		teamID:   teamID,
		cache:    cache,
		retryCfg: retry.DefaultConfig(),
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

// ChannelName derives the canonical channel name for a ceremony. Chat
// channel names are lowercase with dashes.
func ChannelName(kind, projectID string) string {
	name := strings.ToLower(kind + "-" + projectID)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// EnsureChannel makes the named channel exist and be usable, in three
// tiers: create it; if the name is taken, find and unarchive the existing
// channel; if it is taken but not visible to the bot, create under a
// timestamp-suffixed name. Safe to call repeatedly with the same name.
func (c *Client) EnsureChannel(ctx context.Context, name string) (Channel, error) {
	if id, ok := c.cache.Get(name); ok {
		return Channel{ID: id, Name: name}, nil
	}

	ch, err := c.createChannel(ctx, name)
	if err == nil {
		c.cache.Put(name, ch.ID)
		return Channel{ID: ch.ID, Name: name, Created: true}, nil
	}
	if !isAPIErr(err, "name_taken") {
		return Channel{}, fmt.Errorf("failed to create channel %q: %w", name, err)
	}

	existing, err := c.findChannel(ctx, name)
	if err != nil {
		return Channel{}, err
	}
	if existing != nil {
		if existing.IsArchived {
			if err := c.unarchive(ctx, existing.ID); err != nil && !isAPIErr(err, "not_archived") {
				return Channel{}, fmt.Errorf("failed to restore channel %q: %w", name, err)
			}
			c.logger.Info().Str("channel", name).Msg("restored archived channel")
		}
		c.cache.Put(name, existing.ID)
		return Channel{ID: existing.ID, Name: name}, nil
	}

	// Name is taken by a channel the bot cannot see. Fall back to a
	// unique name rather than failing the ceremony.
	unique := fmt.Sprintf("%s-%d", name, time.Now().Unix())
	ch, err = c.createChannel(ctx, unique)
	if err != nil {
		return Channel{}, fmt.Errorf("failed to create fallback channel %q: %w", unique, err)
	}
	c.logger.Warn().Str("wanted", name).Str("got", unique).
		Msg("channel name taken by an invisible channel, created fallback")
	c.cache.Put(unique, ch.ID)
	return Channel{ID: ch.ID, Name: unique, Created: true}, nil
}

// Invite adds users to a channel one at a time, best effort. Users already
// present count as successfully enrolled. Returns the enrolled user ids.
func (c *Client) Invite(ctx context.Context, channelID string, userIDs []string) []string {
	enrolled := make([]string, 0, len(userIDs))
	for _, user := range userIDs {
		if user == "" {
			continue
		}
		err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
			_, err := c.api.InviteUsersToConversationContext(ctx, channelID, user)
			return classify(err)
		})
		if err != nil && !isAPIErr(err, "already_in_channel") && !isAPIErr(err, "cant_invite_self") {
			c.logger.Warn().Err(err).Str("user", user).Str("channel_id", channelID).
				Msg("failed to invite user")
			continue
		}
		enrolled = append(enrolled, user)
	}
	return enrolled
}

// Post sends a plain text message to a channel.
func (c *Client) Post(ctx context.Context, channelID, text string) error {
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("failed to post to channel %s: %w", channelID, err)
	}
	return nil
}

// Ping verifies the service is reachable by listing one channel.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{Limit: 1, TeamID: c.teamID})
	return classify(err)
}

func (c *Client) createChannel(ctx context.Context, name string) (*slack.Channel, error) {
	var ch *slack.Channel
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		var err error
		ch, err = c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
			ChannelName: name,
			TeamID:      c.teamID,
		})
		return classify(err)
	})
	return ch, err
}

func (c *Client) findChannel(ctx context.Context, name string) (*slack.Channel, error) {
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		ExcludeArchived: false,
		Limit:           200,
		TeamID:          c.teamID,
	}
	for {
		var channels []slack.Channel
		var cursor string
		err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
			var err error
			channels, cursor, err = c.api.GetConversationsContext(ctx, params)
			return classify(err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list channels: %w", err)
		}
		for i := range channels {
			if channels[i].Name == name {
				return &channels[i], nil
			}
		}
		if cursor == "" {
			return nil, nil
		}
		params.Cursor = cursor
	}
}

func (c *Client) unarchive(ctx context.Context, channelID string) error {
	return retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		return classify(c.api.UnArchiveConversationContext(ctx, channelID))
	})
}

// classify maps chat service errors onto the shared taxonomy so the retry
// layer can tell transient failures from hard ones.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return &derrors.RateLimitError{RetryAfter: rle.RetryAfter}
	}
	return err
}

// isAPIErr reports whether err carries the given chat API error code.
func isAPIErr(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}
