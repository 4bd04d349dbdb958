package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/ericsoncardosoweb/apollo-ai/reengagement"
)

// --- Persistence Models ---

type agentModel struct {
	ID                       string `gorm:"primaryKey"`
	TenantID                 string `gorm:"index:idx_agents_tenant;not null"`
	Status                   string `gorm:"index:idx_agents_status;default:'active'"`
	ReengagementEnabled      bool   `gorm:"default:false"`
	ReengagementDelayMinutes int    `gorm:"default:120"`
	ReengagementMaxAttempts  int    `gorm:"default:3"`
	ReengagementPrompts      string `gorm:"type:text;default:'[]'"` // JSON
	BusinessHoursEnabled     bool   `gorm:"default:false"`
	BusinessHoursStart       int    `gorm:"default:9"`
	BusinessHoursEnd         int    `gorm:"default:21"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (agentModel) TableName() string {
	return "agents"
}

type conversationModel struct {
	ID                   string `gorm:"primaryKey"`
	TenantID             string `gorm:"index:idx_conversations_tenant;not null"`
	AgentID              string `gorm:"index:idx_conversations_agent;not null"`
	PhoneNumber          string `gorm:"not null"`
	Status               string `gorm:"index:idx_conversations_status;default:'active'"`
	Mode                 string `gorm:"default:'ai'"`
	LastMessageAt        time.Time
	ReengagementAttempts int `gorm:"default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (conversationModel) TableName() string {
	return "conversations"
}

type messageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index:idx_messages_conversation;not null"`
	SenderType     string `gorm:"not null"`
	Content        string `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index:idx_messages_created_at"`
}

func (messageModel) TableName() string {
	return "messages"
}

// --- Repository Implementation ---

// GormConversationStore implements reengagement.ConversationStore over GORM.
type GormConversationStore struct {
	db *gorm.DB
}

func NewGormConversationStore(db *gorm.DB) *GormConversationStore {
	return &GormConversationStore{db: db}
}

func (r *GormConversationStore) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&agentModel{}, &conversationModel{}, &messageModel{})
}

func (r *GormConversationStore) ReengagementAgents(ctx context.Context) ([]reengagement.Agent, error) {
	var models []agentModel
	err := r.db.WithContext(ctx).
		Where("reengagement_enabled = ? AND status = ?", true, "active").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	agents := make([]reengagement.Agent, 0, len(models))
	for _, m := range models {
		agents = append(agents, fromAgentModel(m))
	}
	return agents, nil
}

func (r *GormConversationStore) StaleConversations(ctx context.Context, agentID string, before time.Time, maxAttempts int) ([]reengagement.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND status = ? AND mode = ? AND last_message_at < ? AND reengagement_attempts < ?",
			agentID, reengagement.ConversationStatusActive, reengagement.ConversationModeAI, before, maxAttempts).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	conversations := make([]reengagement.Conversation, 0, len(models))
	for _, m := range models {
		conversations = append(conversations, fromConversationModel(m))
	}
	return conversations, nil
}

func (r *GormConversationStore) LastMessageSender(ctx context.Context, conversationID string) (string, error) {
	var m messageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return m.SenderType, nil
}

// IncrementAttempts is the replica-safe claim on one attempt number: the
// UPDATE matches only while the counter still holds its scanned value.
func (r *GormConversationStore) IncrementAttempts(ctx context.Context, conversationID string, priorAttempts int) (bool, error) {
	result := r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND reengagement_attempts = ?", conversationID, priorAttempts).
		Update("reengagement_attempts", priorAttempts+1)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormConversationStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*reengagement.Conversation, error) {
	var m conversationModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", conversationID, tenantID).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	conv := fromConversationModel(m)
	return &conv, nil
}

// --- Mapping ---

func fromAgentModel(m agentModel) reengagement.Agent {
	policy := reengagement.DefaultPolicy()
	policy.Enabled = m.ReengagementEnabled
	if m.ReengagementDelayMinutes > 0 {
		policy.DelayMinutes = m.ReengagementDelayMinutes
	}
	if m.ReengagementMaxAttempts > 0 {
		policy.MaxAttempts = m.ReengagementMaxAttempts
	}

	var prompts []string
	if m.ReengagementPrompts != "" {
		// Invalid JSON falls back to the default prompts.
		if err := json.Unmarshal([]byte(m.ReengagementPrompts), &prompts); err == nil && len(prompts) > 0 {
			policy.Prompts = prompts
		}
	}

	policy.BusinessHours = reengagement.BusinessHours{
		Enabled:   m.BusinessHoursEnabled,
		StartHour: m.BusinessHoursStart,
		EndHour:   m.BusinessHoursEnd,
	}

	return reengagement.Agent{
		ID:       m.ID,
		TenantID: m.TenantID,
		Policy:   policy,
	}
}

func fromConversationModel(m conversationModel) reengagement.Conversation {
	return reengagement.Conversation{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		AgentID:              m.AgentID,
		Phone:                m.PhoneNumber,
		Status:               m.Status,
		Mode:                 m.Mode,
		LastMessageAt:        m.LastMessageAt,
		ReengagementAttempts: m.ReengagementAttempts,
	}
}
