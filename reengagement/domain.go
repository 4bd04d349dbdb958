// Package reengagement recovers conversations that went cold after the
// business sent the last message. A watchdog scans open conversations on a
// fixed tick and emits a bounded number of follow-up events per conversation.
package reengagement

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Reason explains why a re-engagement event fired.
type Reason string

const (
	ReasonSilenceTimeout Reason = "silence_timeout"
	ReasonScheduled      Reason = "scheduled"
	ReasonManual         Reason = "manual"
)

// Sender types recorded on conversation messages. Only business senders may
// trigger re-engagement; a conversation where the customer spoke last is
// never re-engaged.
const (
	SenderAI         = "ai"
	SenderAgent      = "agent"
	SenderHumanAgent = "human_agent"
	SenderCustomer   = "customer"
)

// IsBusinessSender reports whether the sender type belongs to the business
// side of the conversation.
func IsBusinessSender(senderType string) bool {
	switch senderType {
	case SenderAI, SenderAgent, SenderHumanAgent:
		return true
	}
	return false
}

// Event is emitted when a conversation needs re-engagement. Immutable;
// handlers must be idempotent with respect to (ConversationID, AttemptNumber).
// Prompt is resolved from the owning agent's configured prompt list, so
// handlers send per-agent follow-ups without reloading the policy.
type Event struct {
	ConversationID         string    `json:"conversation_id"`
	TenantID               string    `json:"tenant_id"`
	AgentID                string    `json:"agent_id"`
	Phone                  string    `json:"phone"`
	Reason                 Reason    `json:"reason"`
	AttemptNumber          int       `json:"attempt_number"`
	Prompt                 string    `json:"prompt"`
	LastMessageAt          time.Time `json:"last_message_at"`
	SilenceDurationMinutes int       `json:"silence_duration_minutes"`
	CreatedAt              time.Time `json:"created_at"`
}

// BusinessHours is the wall-clock window inside which an agent may re-engage.
type BusinessHours struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start"`
	EndHour   int  `json:"end"`
}

// Contains reports whether hour falls inside the window. Start is inclusive,
// end exclusive; a disabled window contains every hour.
func (h BusinessHours) Contains(hour int) bool {
	if !h.Enabled {
		return true
	}
	return hour >= h.StartHour && hour < h.EndHour
}

// Policy is the per-agent re-engagement configuration.
type Policy struct {
	Enabled       bool          `json:"enabled"`
	DelayMinutes  int           `json:"delay_minutes"`
	MaxAttempts   int           `json:"max_attempts"`
	Prompts       []string      `json:"prompts"`
	BusinessHours BusinessHours `json:"business_hours"`
}

// DefaultPolicy returns the stock policy: 2h of silence, 3 attempts,
// 9:00-21:00 business hours.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:      true,
		DelayMinutes: 120,
		MaxAttempts:  3,
		Prompts: []string{
			"Olá! Notei que ficou um pouco quieto por aqui. Posso ajudar em algo mais?",
			"Ei! Ainda está por aí? Lembrei de você e queria saber se posso ajudar.",
			"Oi! Só passando para verificar se você ainda precisa de alguma informação.",
		},
		BusinessHours: BusinessHours{Enabled: true, StartHour: 9, EndHour: 21},
	}
}

// Validate checks the policy ranges.
func (p Policy) Validate() error {
	return validation.Errors{
		"delay_minutes": validation.Validate(p.DelayMinutes, validation.Min(1)),
		"max_attempts":  validation.Validate(p.MaxAttempts, validation.Min(1)),
		"start_hour":    validation.Validate(p.BusinessHours.StartHour, validation.Min(0), validation.Max(23)),
		"end_hour":      validation.Validate(p.BusinessHours.EndHour, validation.Min(0), validation.Max(24)),
	}.Filter()
}

// PromptFor returns the follow-up prompt for a given 1-based attempt,
// cycling through the configured prompts.
func (p Policy) PromptFor(attempt int) string {
	if len(p.Prompts) == 0 {
		return ""
	}
	if attempt < 1 {
		attempt = 1
	}
	return p.Prompts[(attempt-1)%len(p.Prompts)]
}

// Agent is the watchdog's view of an agent record.
type Agent struct {
	ID       string
	TenantID string
	Policy   Policy
}

// Conversation is the watchdog's view of a conversation record.
type Conversation struct {
	ID                   string
	TenantID             string
	AgentID              string
	Phone                string
	Status               string
	Mode                 string
	LastMessageAt        time.Time
	ReengagementAttempts int
}

// Conversation status and mode values the watchdog selects on.
const (
	ConversationStatusActive = "active"
	ConversationModeAI       = "ai"
)
