package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/campaign"
)

// MemoryCampaignStore implements campaign.Store in process memory. Used by
// tests and local development.
type MemoryCampaignStore struct {
	mu        sync.Mutex
	campaigns map[string]*campaign.Campaign
	tasks     map[string]*campaign.DeliveryTask
	templates map[string]*campaign.Template
	contacts  map[string]*campaign.Contact
	usage     map[string]int
}

func NewMemoryCampaignStore() *MemoryCampaignStore {
	return &MemoryCampaignStore{
		campaigns: make(map[string]*campaign.Campaign),
		tasks:     make(map[string]*campaign.DeliveryTask),
		templates: make(map[string]*campaign.Template),
		contacts:  make(map[string]*campaign.Contact),
		usage:     make(map[string]int),
	}
}

// --- Seeding helpers ---

func (s *MemoryCampaignStore) PutCampaign(c campaign.Campaign) {
	s.mu.Lock()
	copied := c
	s.campaigns[c.ID] = &copied
	s.mu.Unlock()
}

func (s *MemoryCampaignStore) PutTask(t campaign.DeliveryTask) {
	s.mu.Lock()
	copied := t
	s.tasks[t.ID] = &copied
	s.mu.Unlock()
}

func (s *MemoryCampaignStore) PutTemplate(t campaign.Template) {
	s.mu.Lock()
	copied := t
	s.templates[t.ID] = &copied
	s.mu.Unlock()
}

func (s *MemoryCampaignStore) PutContact(c campaign.Contact) {
	s.mu.Lock()
	copied := c
	s.contacts[c.ID] = &copied
	s.mu.Unlock()
}

// Task returns a snapshot of one task.
func (s *MemoryCampaignStore) Task(id string) (campaign.DeliveryTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return *t, true
	}
	return campaign.DeliveryTask{}, false
}

// TemplateUsage returns how many times a template was used.
func (s *MemoryCampaignStore) TemplateUsage(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[id]
}

// --- campaign.Store ---

func (s *MemoryCampaignStore) RunningCampaigns(context.Context) ([]campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []campaign.Campaign
	for _, c := range s.campaigns {
		if c.Status == campaign.StatusRunning {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryCampaignStore) Campaign(_ context.Context, id string) (*campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryCampaignStore) SetStatus(_ context.Context, id string, status campaign.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

func (s *MemoryCampaignStore) PendingTasks(_ context.Context, campaignID string, batch, limit int) ([]campaign.DeliveryTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []campaign.DeliveryTask
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.BatchNumber == batch && t.Status == campaign.TaskPending {
			out = append(out, *t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryCampaignStore) PendingCount(_ context.Context, campaignID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.Status == campaign.TaskPending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryCampaignStore) AdvanceBatch(_ context.Context, campaignID string, nextBatch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[campaignID]; ok {
		c.CurrentBatch = nextBatch
	}
	return nil
}

func (s *MemoryCampaignStore) CompleteCampaign(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[campaignID]; ok {
		now := time.Now()
		c.Status = campaign.StatusCompleted
		c.CompletedAt = &now
	}
	return nil
}

func (s *MemoryCampaignStore) MarkTaskSending(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = campaign.TaskSending
	}
	return nil
}

func (s *MemoryCampaignStore) MarkTaskSent(_ context.Context, taskID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		now := time.Now()
		t.Status = campaign.TaskSent
		t.SentAt = &now
		t.MessageIDs = append([]string(nil), messageIDs...)
	}
	return nil
}

func (s *MemoryCampaignStore) MarkTaskFailed(_ context.Context, taskID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = campaign.TaskFailed
		t.ErrorMessage = errorMessage
		t.RetryCount++
	}
	return nil
}

func (s *MemoryCampaignStore) RecordCampaignSend(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[campaignID]; ok {
		now := time.Now()
		c.SentCount++
		c.LastSentAt = &now
	}
	return nil
}

func (s *MemoryCampaignStore) Template(_ context.Context, templateID string) (*campaign.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateID]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryCampaignStore) Contact(_ context.Context, contactID string) (*campaign.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryCampaignStore) IncrementTemplateUsage(_ context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[templateID]++
	return nil
}

// MemoryRateLimiter implements campaign.RateLimiter in process memory with a
// real rolling window.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	windowAt map[string]time.Time
	window   time.Duration
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		counts:   make(map[string]int),
		windowAt: make(map[string]time.Time),
		window:   dailyWindow,
	}
}

func (r *MemoryRateLimiter) expireLocked(campaignID string) {
	if at, ok := r.windowAt[campaignID]; ok && time.Since(at) >= r.window {
		delete(r.counts, campaignID)
		delete(r.windowAt, campaignID)
	}
}

func (r *MemoryRateLimiter) SentToday(_ context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(campaignID)
	return r.counts[campaignID], nil
}

func (r *MemoryRateLimiter) RecordSend(_ context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(campaignID)
	if r.counts[campaignID] == 0 {
		r.windowAt[campaignID] = time.Now()
	}
	r.counts[campaignID]++
	return r.counts[campaignID], nil
}
