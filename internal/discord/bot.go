package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Bot owns the gateway connection.
type Bot struct {
	sess *discordgo.Session
}

// NewBot creates a gateway session with the intents the command
// surface needs. The connection is not opened until Start.
func NewBot(token string) (*Bot, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &Bot{sess: sess}, nil
}

// Session exposes the underlying gateway session for adapters and the
// handler. It satisfies the Session interface.
func (b *Bot) Session() *discordgo.Session {
	return b.sess
}

// Start registers the message handler and opens the gateway.
func (b *Bot) Start(h *Handler) error {
	b.sess.AddHandler(h.OnMessageCreate)
	if err := b.sess.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	return b.sess.Close()
}
