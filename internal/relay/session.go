package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/warelay/internal/lang"
	"github.com/nextlevelbuilder/warelay/internal/webhook"
)

var (
	errThreadLookup = errors.New("thread lookup failed")
	errThreadCreate = errors.New("thread creation failed")
)

const titleWords = 6

// ensureRegistered registers first-time senders with the backend,
// guessing their preferred language from the message text.
func (p *Pipeline) ensureRegistered(ctx context.Context, ev *webhook.Event) error {
	exists, err := p.backend.UserExists(ctx, ev.SenderID)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if exists {
		return nil
	}

	language := "en"
	if ev.Type == webhook.MessageText {
		language = lang.Detect(ev.Text)
	}
	if err := p.backend.RegisterUser(ctx, ev.SenderID, language); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	slog.Info("registered new user", "sender", ev.SenderID, "language", language)
	return nil
}

// resolveThread reuses the sender's last thread while it is fresh,
// otherwise creates a new one titled with the message's first words.
func (p *Pipeline) resolveThread(ctx context.Context, ev *webhook.Event) (string, error) {
	last, err := p.backend.LastThread(ctx, ev.SenderID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errThreadLookup, err)
	}

	retention := p.cfg.Current().Chat.RetentionPeriod()
	if last != nil && !last.LastMessageTime.IsZero() && p.now().Sub(last.LastMessageTime) < retention {
		return last.ThreadID, nil
	}

	id, err := p.backend.CreateThread(ctx, ev.SenderID, threadTitle(ev.Text))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errThreadCreate, err)
	}
	slog.Info("created thread", "sender", ev.SenderID, "thread_id", id)
	return id, nil
}

func threadTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if title == "" {
		title = "New conversation"
	}
	return title
}

func threadFailureNotice(err error) string {
	switch {
	case errors.Is(err, errThreadCreate):
		return "Sorry, I couldn't start a new conversation. Please try again later."
	case errors.Is(err, errThreadLookup):
		return "Sorry, I couldn't look up our conversation. Please try again later."
	default:
		return genericFailureNotice
	}
}

// handleLocation forwards the coordinates to the backend and acknowledges.
func (p *Pipeline) handleLocation(ctx context.Context, log *slog.Logger, ev *webhook.Event) {
	loc := ev.Location
	if err := p.backend.UpdateLocation(ctx, ev.SenderID, loc.Latitude, loc.Longitude); err != nil {
		log.Error("location update failed", "error", err)
		p.Notify(ctx, ev.SenderID, genericFailureNotice)
		return
	}
	log.Info("location updated")
	p.Notify(ctx, ev.SenderID, "Thanks for sharing your location! I'll use it to give you more relevant answers.")
}

// handleUnsupported tells the sender what the gateway can't handle yet.
func (p *Pipeline) handleUnsupported(ctx context.Context, log *slog.Logger, ev *webhook.Event) {
	kind := "this media type"
	if ev.Type == webhook.MessageMedia && ev.RawType != "" {
		kind = ev.RawType + "s"
	}
	log.Info("unsupported message", "raw_type", ev.RawType)
	p.Notify(ctx, ev.SenderID, fmt.Sprintf("Sorry, I can't process %s yet. Please send me a text message.", kind))
}
