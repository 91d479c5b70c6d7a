package notify

import (
	"context"

	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
)

// Subscribe wires m to the eventbus.Bus events worth paging a human
// about: an escalation requiring manual review, a rollback, and a
// rejected escalation. Mirrors api.Server.subscribeFeed's table-of-
// event-types-to-handler shape, substituting Notification delivery for
// the live WebSocket feed.
func Subscribe(bus *eventbus.Bus, m *Manager) {
	if bus == nil || m == nil {
		return
	}
	bus.Subscribe(events.TypeArbitrationEscalated, func(_ context.Context, ev eventbus.Event) error {
		e := ev.(events.ArbitrationEscalated)
		m.Send(Notification{
			Type: "escalation", Severity: "warning",
			Title:    "Arbitration escalated for manual review",
			Message:  e.Reason,
			EntityID: e.DecisionID,
			Details:  map[string]interface{}{"conflictId": e.ConflictID, "escalatedProposals": e.EscalatedProposals},
		})
		return nil
	})
	bus.Subscribe(events.TypePreferenceRolledBack, func(_ context.Context, ev eventbus.Event) error {
		e := ev.(events.PreferenceRolledBack)
		m.Send(Notification{
			Type: "rollback", Severity: "warning",
			Title:     "Auto-adapted preference rolled back",
			Message:   e.Reason,
			AgentName: e.AgentName,
			EntityID:  e.AttemptID,
			Details:   map[string]interface{}{"category": e.Category, "key": e.Key},
		})
		return nil
	})
	bus.Subscribe(events.TypeEscalationRejected, func(_ context.Context, ev eventbus.Event) error {
		e := ev.(events.EscalationRejected)
		m.Send(Notification{
			Type: "escalation", Severity: "info",
			Title:    "Escalation rejected",
			EntityID: e.DecisionID,
			Details:  map[string]interface{}{"conflictId": e.ConflictID, "rejectedBy": e.RejectedBy},
		})
		return nil
	})
}
