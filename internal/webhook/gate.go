package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

// Drop reasons, used as log fields and counters.
const (
	ReasonNotTarget   = "not_target_account"
	ReasonStatus      = "status_update"
	ReasonMaintenance = "maintenance"
	ReasonDuplicate   = "duplicate"
	ReasonDevRouting  = "dev_routing"
	ReasonStale       = "stale"
)

const maintenanceNotice = "Sorry, we're currently undergoing maintenance. We'll be back soon, please try again later."

// Decision is the outcome of admission. When Admit is false and Notice is
// non-empty, the sender still gets a courtesy reply.
type Decision struct {
	Admit  bool
	Reason string
	Notice string
}

// Gate applies the ordered admission checks to classified events.
// Checks run cheapest-first and read live config, so a maintenance flip
// via config reload applies to the next delivery.
type Gate struct {
	cfg   *config.Store
	dedup *DedupCache

	now func() time.Time // test hook
}

func NewGate(cfg *config.Store, dedup *DedupCache) *Gate {
	return &Gate{cfg: cfg, dedup: dedup, now: time.Now}
}

// Check runs the admission checks in order. On admission it records the
// message in the dedup cache.
func (g *Gate) Check(ev *Event) Decision {
	cfg := g.cfg.Current()

	if !ev.IsTargetAccount {
		return Decision{Reason: ReasonNotTarget}
	}
	if ev.IsStatus {
		return Decision{Reason: ReasonStatus}
	}
	if cfg.Chat.Maintenance {
		return Decision{Reason: ReasonMaintenance, Notice: maintenanceNotice}
	}
	if g.dedup.Seen(ev.SenderID, ev.MessageID) {
		return Decision{Reason: ReasonDuplicate}
	}

	// "!d "-prefixed texts are developer traffic: the staging number is
	// shared with local dev runs, so staging leaves those messages to the
	// dev's machine. Every other deployment treats them as normal text.
	if ev.Type == MessageText && cfg.Server.Deployment == "staging" && strings.HasPrefix(ev.Text, "!d ") {
		return Decision{Reason: ReasonDevRouting}
	}

	if ev.SentAt > 0 {
		age := g.now().Sub(time.Unix(ev.SentAt, 0))
		if age > cfg.Chat.MessageAgeThreshold() {
			d := Decision{Reason: ReasonStale}
			if cfg.Chat.StalePolicy == "notify" {
				d.Notice = staleNotice(ev.Text)
			}
			return d
		}
	}

	// Record last so a rejected message can be retried by Meta and pass
	// once the condition clears. A lost race to a concurrent duplicate
	// delivery drops this copy.
	if !g.dedup.Record(ev.SenderID, ev.MessageID) {
		return Decision{Reason: ReasonDuplicate}
	}
	return Decision{Admit: true}
}

// staleNotice quotes the first few words of the dropped message so the
// sender knows which one expired.
func staleNotice(text string) string {
	words := strings.Fields(text)
	if len(words) > 5 {
		words = words[:5]
	}
	return fmt.Sprintf("Sorry, your message %q is too old. Please send a new message.", strings.Join(words, " "))
}
