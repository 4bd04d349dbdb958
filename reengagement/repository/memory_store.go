package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/reengagement"
)

// MemoryConversationStore implements reengagement.ConversationStore in
// process memory. Used by tests and local development.
type MemoryConversationStore struct {
	mu            sync.Mutex
	agents        map[string]reengagement.Agent
	conversations map[string]*reengagement.Conversation
	lastSenders   map[string]string
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		agents:        make(map[string]reengagement.Agent),
		conversations: make(map[string]*reengagement.Conversation),
		lastSenders:   make(map[string]string),
	}
}

// PutAgent upserts an agent record.
func (s *MemoryConversationStore) PutAgent(agent reengagement.Agent) {
	s.mu.Lock()
	s.agents[agent.ID] = agent
	s.mu.Unlock()
}

// PutConversation upserts a conversation and its last message sender.
func (s *MemoryConversationStore) PutConversation(conv reengagement.Conversation, lastSender string) {
	s.mu.Lock()
	c := conv
	s.conversations[conv.ID] = &c
	s.lastSenders[conv.ID] = lastSender
	s.mu.Unlock()
}

// Attempts returns the current attempt counter for a conversation.
func (s *MemoryConversationStore) Attempts(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		return c.ReengagementAttempts
	}
	return 0
}

func (s *MemoryConversationStore) ReengagementAgents(_ context.Context) ([]reengagement.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var agents []reengagement.Agent
	for _, a := range s.agents {
		if a.Policy.Enabled {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

func (s *MemoryConversationStore) StaleConversations(_ context.Context, agentID string, before time.Time, maxAttempts int) ([]reengagement.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reengagement.Conversation
	for _, c := range s.conversations {
		if c.AgentID == agentID &&
			c.Status == reengagement.ConversationStatusActive &&
			c.Mode == reengagement.ConversationModeAI &&
			c.LastMessageAt.Before(before) &&
			c.ReengagementAttempts < maxAttempts {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryConversationStore) LastMessageSender(_ context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSenders[conversationID], nil
}

func (s *MemoryConversationStore) IncrementAttempts(_ context.Context, conversationID string, priorAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.ReengagementAttempts != priorAttempts {
		return false, nil
	}
	c.ReengagementAttempts++
	return true, nil
}

func (s *MemoryConversationStore) GetConversation(_ context.Context, tenantID, conversationID string) (*reengagement.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.TenantID != tenantID {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}
