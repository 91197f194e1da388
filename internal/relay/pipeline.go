// Package relay drives a conversation turn: keepalive, session
// resolution, the backend call and the outbound reply.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/warelay/internal/backend"
	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/keepalive"
	"github.com/nextlevelbuilder/warelay/internal/meta"
	"github.com/nextlevelbuilder/warelay/internal/webhook"
)

// User-facing fallbacks per relay failure kind. Deliberately vague: the
// sender never sees backend internals.
var fallbackNotices = map[backend.RelayErrorKind]string{
	backend.ErrBackendRejected: "Sorry, I couldn't process your message. Please try again later.",
	backend.ErrEmptyReply:      "Sorry, I don't have an answer for that right now. Please try rephrasing your message.",
	backend.ErrTimeout:         "Sorry, that took longer than expected and I had to give up. Please try again.",
	backend.ErrUnreachable:     "Sorry, I'm having trouble reaching my brain right now. Please try again later.",
}

const (
	genericFailureNotice      = "Sorry, something went wrong. Please try again later."
	registrationFailureNotice = "Sorry, we couldn't register your account. Please try again later."
)

// Pipeline processes admitted webhook events asynchronously. It
// implements both webhook.Relay and webhook.Notifier.
type Pipeline struct {
	cfg     *config.Store
	backend backend.Client
	sender  meta.Sender
	tracer  trace.Tracer

	wg  sync.WaitGroup
	now func() time.Time // test hook

	// keepalive cadence, overridable in tests
	keepaliveInterval time.Duration
	keepaliveMax      time.Duration
}

func NewPipeline(cfg *config.Store, be backend.Client, sender meta.Sender) *Pipeline {
	return &Pipeline{
		cfg:               cfg,
		backend:           be,
		sender:            sender,
		tracer:            otel.Tracer("warelay/relay"),
		now:               time.Now,
		keepaliveInterval: 26 * time.Second,
		keepaliveMax:      5 * time.Minute,
	}
}

// Process handles the event in the background so the webhook handler can
// acknowledge immediately. Each event gets exactly one relay attempt.
func (p *Pipeline) Process(ev *webhook.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(context.Background(), ev)
	}()
}

// Wait blocks until all in-flight runs finish. Used at shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, ev *webhook.Event) {
	runID := uuid.NewString()
	log := slog.With("run_id", runID, "sender", ev.SenderID, "type", ev.Type)

	ctx, span := p.tracer.Start(ctx, "relay.process",
		trace.WithAttributes(
			attribute.String("relay.run_id", runID),
			attribute.String("message.type", string(ev.Type)),
		))
	defer span.End()

	ka := keepalive.New(keepalive.Options{
		Interval:    p.keepaliveInterval,
		MaxDuration: p.keepaliveMax,
		SendFn: func(ctx context.Context) error {
			return p.sender.SendTyping(ctx, ev.MessageID)
		},
	})
	ka.Start(ctx)
	defer ka.Stop()

	if err := p.ensureRegistered(ctx, ev); err != nil {
		log.Error("registration failed", "error", err)
		span.SetStatus(codes.Error, "registration failed")
		ka.Stop()
		p.Notify(ctx, ev.SenderID, registrationFailureNotice)
		return
	}

	switch ev.Type {
	case webhook.MessageLocation:
		ka.Stop()
		p.handleLocation(ctx, log, ev)
		return
	case webhook.MessageMedia, webhook.MessageUnsupported:
		ka.Stop()
		p.handleUnsupported(ctx, log, ev)
		return
	}

	threadID, err := p.resolveThread(ctx, ev)
	if err != nil {
		log.Error("thread resolution failed", "error", err)
		span.SetStatus(codes.Error, "thread resolution failed")
		ka.Stop()
		p.Notify(ctx, ev.SenderID, threadFailureNotice(err))
		return
	}
	span.SetAttributes(attribute.String("thread.id", threadID))

	relayCtx, cancel := context.WithTimeout(ctx, p.cfg.Current().Backend.RelayTimeout())
	reply, err := p.backend.ProcessMessage(relayCtx, ev.SenderID, threadID, ev.Text)
	cancel()

	// The typing indicator must not outlive the relay: stop (and wait for
	// the in-flight send) before anything else happens on any exit path.
	ka.Stop()

	if err != nil {
		var relayErr *backend.RelayError
		notice := genericFailureNotice
		if errors.As(err, &relayErr) {
			if n, ok := fallbackNotices[relayErr.Kind]; ok {
				notice = n
			}
			span.SetAttributes(attribute.String("relay.error_kind", string(relayErr.Kind)))
		}
		log.Error("relay failed", "error", err)
		span.SetStatus(codes.Error, "relay failed")
		p.Notify(ctx, ev.SenderID, notice)
		return
	}

	formatted := meta.FormatForWhatsApp(reply)
	if formatted == "" {
		log.Warn("reply empty after formatting")
		p.Notify(ctx, ev.SenderID, fallbackNotices[backend.ErrEmptyReply])
		return
	}

	if err := p.sender.SendText(ctx, ev.SenderID, formatted); err != nil {
		// Nothing sensible to tell the user on a channel that just failed.
		log.Error("reply delivery failed", "error", err)
		span.SetStatus(codes.Error, "delivery failed")
		return
	}
	log.Info("relay complete", "thread_id", threadID, "reply_chars", len(formatted))
}

// Notify sends a short courtesy message, logging failures instead of
// propagating them.
func (p *Pipeline) Notify(ctx context.Context, senderID, text string) {
	if err := p.sender.SendText(ctx, senderID, text); err != nil {
		slog.Warn("notice delivery failed", "sender", senderID, "error", err)
	}
}
