// Package notify delivers human-facing notifications for the events an
// operator cares about: an arbitration escalated for manual review, an
// auto-adaptation rolled back, a preference suggestion awaiting
// approval. A deduplicating dispatcher fans a Notification out to one or
// more Sender channels.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Notification is the channel-agnostic payload every Sender delivers.
type Notification struct {
	Type      string                 `json:"type"`     // escalation, rollback, suggestion
	Severity  string                 `json:"severity"` // info, warning, critical
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	AgentName string                 `json:"agentName,omitempty"`
	EntityID  string                 `json:"entityId,omitempty"` // decisionId, attemptId, suggestionId
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sender is a delivery channel for Notifications.
type Sender interface {
	Send(n Notification) error
	Name() string
}

// Manager fans a Notification out to every registered Sender,
// deduplicating identical (type, agent, entity) triples within a TTL
// window so a flapping condition does not page the same channel twice.
type Manager struct {
	mu       sync.Mutex
	senders  []Sender
	dedup    map[string]time.Time
	dedupTTL time.Duration
	logger   *slog.Logger
}

// NewManager builds a Manager with the given Senders already registered.
func NewManager(logger *slog.Logger, dedupTTL time.Duration, senders ...Sender) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dedupTTL <= 0 {
		dedupTTL = 5 * time.Minute
	}
	return &Manager{
		senders:  senders,
		dedup:    make(map[string]time.Time),
		dedupTTL: dedupTTL,
		logger:   logger.With("component", "notify.Manager"),
	}
}

// Send dispatches n to every configured channel, asynchronously, unless
// an identical (type, agent, entity) triple was already sent within the
// dedup window.
func (m *Manager) Send(n Notification) {
	n.Timestamp = time.Now()

	key := n.Type + "|" + n.AgentName + "|" + n.EntityID
	m.mu.Lock()
	if last, ok := m.dedup[key]; ok && time.Since(last) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("notification deduplicated", "type", n.Type, "key", key)
		return
	}
	m.dedup[key] = time.Now()
	senders := make([]Sender, len(m.senders))
	copy(senders, m.senders)
	m.mu.Unlock()

	for _, sender := range senders {
		go func(s Sender) {
			if err := s.Send(n); err != nil {
				m.logger.Error("failed to send notification", "sender", s.Name(), "type", n.Type, "error", err)
			}
		}(sender)
	}
}

// PruneDedup removes dedup entries older than twice the TTL. Call
// periodically from a background goroutine.
func (m *Manager) PruneDedup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, ts := range m.dedup {
		if now.Sub(ts) > m.dedupTTL*2 {
			delete(m.dedup, key)
		}
	}
}

// HasSenders reports whether any delivery channel is configured.
func (m *Manager) HasSenders() bool {
	return len(m.senders) > 0
}
