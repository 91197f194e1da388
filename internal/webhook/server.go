package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

// maxBodyBytes caps webhook request bodies. Real deliveries are a few KB.
const maxBodyBytes = 1 << 20

// Relay consumes admitted events. The pipeline behind it returns
// immediately and finishes the conversation in the background.
type Relay interface {
	Process(ev *Event)
}

// Notifier sends a short courtesy message to a user outside a relay run.
type Notifier interface {
	Notify(ctx context.Context, senderID, text string)
}

// Server is the webhook HTTP surface: Meta's verification handshake,
// delivery intake, and a health probe.
type Server struct {
	cfg        *config.Store
	classifier *Classifier
	gate       *Gate
	relay      Relay
	notifier   Notifier

	httpServer *http.Server
}

func NewServer(cfg *config.Store, classifier *Classifier, gate *Gate, relay Relay, notifier Notifier) *Server {
	s := &Server{
		cfg:        cfg,
		classifier: classifier,
		gate:       gate,
		relay:      relay,
		notifier:   notifier,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /whatsapp/v1", s.handleVerify)
	mux.HandleFunc("POST /whatsapp/v1", s.handleWebhook)

	current := cfg.Current()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", current.Server.Host, current.Server.Port),
		Handler:           s.checkOrigin(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webhook server shutdown", "error", err)
		}
	}()

	slog.Info("webhook server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// checkOrigin rejects cross-origin browser requests when an allowlist is
// configured. Meta's webhook calls carry no Origin header and pass through.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := s.cfg.Current().Server.AllowedOrigins
			if len(allowed) > 0 {
				ok := false
				for _, a := range allowed {
					if a == origin {
						ok = true
						break
					}
				}
				if !ok {
					slog.Warn("rejected origin", "origin", origin)
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "warelay",
	})
}

// handleVerify implements Meta's webhook verification handshake: echo the
// challenge when the verify token matches, 403 when it doesn't.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != s.cfg.Current().Meta.VerifyToken {
		slog.Warn("webhook verification failed", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	slog.Info("webhook verified")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, challenge)
}

// handleWebhook acknowledges every delivery with 200 so Meta does not
// retry; processing happens after the response, detached from the
// request context.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("webhook body read failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, err := s.classifier.Classify(body)
	if err != nil {
		slog.Debug("ignoring webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	decision := s.gate.Check(ev)
	if !decision.Admit {
		if decision.Reason != ReasonNotTarget && decision.Reason != ReasonStatus {
			slog.Info("message dropped", "reason", decision.Reason, "sender", ev.SenderID)
		}
		if decision.Notice != "" {
			// Outlives the request but not process shutdown.
			notifyCtx := context.WithoutCancel(r.Context())
			go s.notifier.Notify(notifyCtx, ev.SenderID, decision.Notice)
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	slog.Info("message admitted", "sender", ev.SenderID, "type", ev.Type, "message_id", ev.MessageID)
	s.relay.Process(ev)
	w.WriteHeader(http.StatusOK)
}
