package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/notify"
)

// Channel and stream names used on the signal bus.
const (
	Channel = "ledger:events"
	Stream  = "ledger:events:log"
)

// BusSink publishes events as JSON on the pub/sub channel and appends them to
// the durable stream.
type BusSink struct {
	bus domain.SignalBus
}

func NewBusSink(bus domain.SignalBus) *BusSink { return &BusSink{bus: bus} }

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Deliver(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	if err := s.bus.StreamAppend(ctx, Stream, payload); err != nil {
		return err
	}
	return s.bus.Publish(ctx, Channel, payload)
}

// AuditSink writes every event to the audit log.
type AuditSink struct {
	store domain.AuditStore
}

func NewAuditSink(store domain.AuditStore) *AuditSink { return &AuditSink{store: store} }

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Deliver(ctx context.Context, evt domain.Event) error {
	detail := map[string]any{
		"pool_id":     evt.PoolID,
		"occurred_at": evt.OccurredAt,
	}
	if evt.UserID != "" {
		detail["user_id"] = evt.UserID
	}
	if evt.Investment != nil {
		detail["investment_id"] = evt.Investment.ID
		detail["current_value"] = evt.Investment.CurrentValue.String()
		detail["investment_status"] = evt.Investment.Status
	}
	if evt.Withdrawal != nil {
		detail["withdrawal_id"] = evt.Withdrawal.ID
		detail["requested_amount"] = evt.Withdrawal.RequestedAmount.String()
		detail["penalty"] = evt.Withdrawal.Penalty.String()
		detail["withdrawal_status"] = evt.Withdrawal.Status
	}
	for k, v := range evt.Detail {
		detail[k] = v
	}
	return s.store.Log(ctx, string(evt.Type), detail)
}

// NotifySink turns events into operator notifications. The notifier's own
// event filter decides which types go out; invariant violations always do.
type NotifySink struct {
	notifier *notify.Notifier
}

func NewNotifySink(n *notify.Notifier) *NotifySink { return &NotifySink{notifier: n} }

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Deliver(ctx context.Context, evt domain.Event) error {
	title, msg := describe(evt)
	if evt.Type == domain.EventInvariantViolation {
		return s.notifier.NotifyAll(ctx, title, msg)
	}
	return s.notifier.Notify(ctx, string(evt.Type), title, msg)
}

func describe(evt domain.Event) (title, msg string) {
	switch evt.Type {
	case domain.EventInvestmentCreated:
		title = "New investment"
		if inv := evt.Investment; inv != nil {
			msg = fmt.Sprintf("%s invested %s in %s (matures %s)",
				inv.UserID, inv.Principal.StringFixed(2), evt.PoolID, inv.MaturityDate.Format("2006-01-02"))
		}
	case domain.EventWithdrawalRequested:
		title = "Withdrawal requested"
		if w := evt.Withdrawal; w != nil {
			msg = fmt.Sprintf("%s requested %s from %s (penalty %s, %s)",
				w.UserID, w.RequestedAmount.StringFixed(2), evt.PoolID, w.Penalty.StringFixed(2), w.Reason)
		}
	case domain.EventWithdrawalProcessed:
		title = "Withdrawal processed"
		if w := evt.Withdrawal; w != nil {
			msg = fmt.Sprintf("request %s for %s in %s is %s; paid out %s",
				w.ID, w.RequestedAmount.StringFixed(2), evt.PoolID, w.Status, w.ActualAmount.StringFixed(2))
			if w.Status == domain.WithdrawalStatusRejected {
				msg = fmt.Sprintf("request %s for %s in %s was rejected: %s",
					w.ID, w.RequestedAmount.StringFixed(2), evt.PoolID, w.Reason)
			}
		}
	case domain.EventInvariantViolation:
		title = "Ledger invariant violated"
		msg = fmt.Sprintf("pool %s refused a mutation: total=%v available=%v locked=%v",
			evt.PoolID, evt.Detail["total_amount"], evt.Detail["available_amount"], evt.Detail["locked_amount"])
	default:
		title = string(evt.Type)
	}
	if msg == "" {
		msg = fmt.Sprintf("pool %s", evt.PoolID)
	}
	return title, msg
}
