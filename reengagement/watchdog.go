package reengagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCheckInterval is the watchdog tick.
const DefaultCheckInterval = 60 * time.Second

// ConversationStore is the business-record access the watchdog needs. Backed
// by GORM in production and by an in-memory store in tests.
type ConversationStore interface {
	// ReengagementAgents returns active agents with re-engagement enabled.
	ReengagementAgents(ctx context.Context) ([]Agent, error)
	// StaleConversations returns active AI-mode conversations for the agent
	// whose last message is older than before and whose attempt counter is
	// below maxAttempts.
	StaleConversations(ctx context.Context, agentID string, before time.Time, maxAttempts int) ([]Conversation, error)
	// LastMessageSender returns the sender type of the conversation's most
	// recent message, or "" when the conversation has no messages.
	LastMessageSender(ctx context.Context, conversationID string) (string, error)
	// IncrementAttempts bumps the attempt counter from priorAttempts to
	// priorAttempts+1 only if the stored value still equals priorAttempts.
	// Returns false when another replica got there first.
	IncrementAttempts(ctx context.Context, conversationID string, priorAttempts int) (bool, error)
	// GetConversation loads one conversation scoped to a tenant.
	GetConversation(ctx context.Context, tenantID, conversationID string) (*Conversation, error)
}

// Watchdog periodically scans open conversations and fires re-engagement
// events for the ones that went silent after the business spoke last.
//
// The attempt counter is incremented before handlers run: a crash in between
// under-fires rather than over-fires, and the conditional increment is what
// keeps concurrent replicas from firing the same attempt twice.
type Watchdog struct {
	store    ConversationStore
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	handlers []func(Event)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWatchdog creates a Watchdog. A non-positive interval falls back to the
// default tick.
func NewWatchdog(store ConversationStore, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Watchdog{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// OnReengagementNeeded registers a handler for re-engagement events. Handlers
// run sequentially per event; a panicking handler is logged and skipped.
func (w *Watchdog) OnReengagementNeeded(handler func(Event)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

// Start launches the tick loop.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.check(ctx); err != nil {
					// Skip the tick and retry next interval.
					logrus.WithError(err).Error("[REENGAGEMENT] Check failed")
				}
			}
		}
	}()
	logrus.Infof("[REENGAGEMENT] Watchdog started (tick %s)", w.interval)
}

// Stop cancels the loop and waits for the in-flight tick.
func (w *Watchdog) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
		logrus.Info("[REENGAGEMENT] Watchdog stopped")
	})
}

// check runs one scan over all eligible agents and conversations.
func (w *Watchdog) check(ctx context.Context) error {
	now := w.now().UTC()

	agents, err := w.store.ReengagementAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	for _, agent := range agents {
		if !agent.Policy.Enabled {
			continue
		}
		if !agent.Policy.BusinessHours.Contains(now.Hour()) {
			logrus.Debugf("[REENGAGEMENT] Agent %s outside business hours, skipping", agent.ID)
			continue
		}

		threshold := now.Add(-time.Duration(agent.Policy.DelayMinutes) * time.Minute)
		conversations, err := w.store.StaleConversations(ctx, agent.ID, threshold, agent.Policy.MaxAttempts)
		if err != nil {
			logrus.WithError(err).Errorf("[REENGAGEMENT] Failed to scan conversations agent=%s", agent.ID)
			continue
		}

		for _, conv := range conversations {
			w.evaluate(ctx, agent, conv, now)
		}
	}
	return nil
}

// evaluate applies the last-sender gate and, if the conversation qualifies,
// increments the attempt counter and emits the event.
func (w *Watchdog) evaluate(ctx context.Context, agent Agent, conv Conversation, now time.Time) {
	sender, err := w.store.LastMessageSender(ctx, conv.ID)
	if err != nil {
		logrus.WithError(err).Warnf("[REENGAGEMENT] Failed to read last sender conversation=%s", conv.ID)
		return
	}
	if !IsBusinessSender(sender) {
		// The customer spoke last (or there are no messages); their turn.
		return
	}

	attempt := conv.ReengagementAttempts + 1

	ok, err := w.store.IncrementAttempts(ctx, conv.ID, conv.ReengagementAttempts)
	if err != nil {
		logrus.WithError(err).Errorf("[REENGAGEMENT] Failed to increment attempts conversation=%s", conv.ID)
		return
	}
	if !ok {
		// Another replica claimed this attempt between scan and increment.
		logrus.Debugf("[REENGAGEMENT] Attempt %d already claimed conversation=%s", attempt, conv.ID)
		return
	}

	w.emit(Event{
		ConversationID:         conv.ID,
		TenantID:               conv.TenantID,
		AgentID:                agent.ID,
		Phone:                  conv.Phone,
		Reason:                 ReasonSilenceTimeout,
		AttemptNumber:          attempt,
		Prompt:                 agent.Policy.PromptFor(attempt),
		LastMessageAt:          conv.LastMessageAt,
		SilenceDurationMinutes: int(now.Sub(conv.LastMessageAt).Minutes()),
		CreatedAt:              now,
	})
}

// TriggerManual fires a re-engagement event for one conversation regardless
// of silence duration or business hours. Returns false when the conversation
// does not exist for the tenant.
func (w *Watchdog) TriggerManual(ctx context.Context, tenantID, conversationID string) (bool, error) {
	conv, err := w.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return false, nil
	}

	attempt := conv.ReengagementAttempts + 1
	if ok, err := w.store.IncrementAttempts(ctx, conv.ID, conv.ReengagementAttempts); err != nil {
		return false, fmt.Errorf("failed to increment attempts: %w", err)
	} else if !ok {
		return false, nil
	}

	now := w.now().UTC()
	w.emit(Event{
		ConversationID:         conv.ID,
		TenantID:               tenantID,
		AgentID:                conv.AgentID,
		Phone:                  conv.Phone,
		Reason:                 ReasonManual,
		AttemptNumber:          attempt,
		Prompt:                 w.agentPolicy(ctx, conv.AgentID).PromptFor(attempt),
		LastMessageAt:          conv.LastMessageAt,
		SilenceDurationMinutes: 0,
		CreatedAt:              now,
	})
	return true, nil
}

// agentPolicy resolves the agent's configured policy for manual triggers,
// falling back to the stock policy when the agent is unknown or has
// re-engagement disabled.
func (w *Watchdog) agentPolicy(ctx context.Context, agentID string) Policy {
	agents, err := w.store.ReengagementAgents(ctx)
	if err != nil {
		logrus.WithError(err).Warnf("[REENGAGEMENT] Failed to resolve agent policy agent=%s", agentID)
		return DefaultPolicy()
	}
	for _, a := range agents {
		if a.ID == agentID {
			return a.Policy
		}
	}
	return DefaultPolicy()
}

func (w *Watchdog) emit(event Event) {
	logrus.Infof("[REENGAGEMENT] Triggered conversation=%s attempt=%d silence=%dm reason=%s",
		event.ConversationID, event.AttemptNumber, event.SilenceDurationMinutes, event.Reason)

	w.mu.RLock()
	handlers := append(([]func(Event))(nil), w.handlers...)
	w.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("[REENGAGEMENT] Handler panic conversation=%s: %v",
						event.ConversationID, r)
				}
			}()
			h(event)
		}()
	}
}
