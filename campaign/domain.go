// Package campaign sends bulk outbound messages in rate-limited batches with
// humanized pacing between sends.
package campaign

import (
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
)

// Status is the campaign lifecycle state. Only running campaigns are picked
// up by the dispatcher; transitions out of running happen by operator action
// or by completion.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// TaskStatus is the delivery task lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSending   TaskStatus = "sending"
	TaskSent      TaskStatus = "sent"
	TaskDelivered TaskStatus = "delivered"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Campaign is one bulk-send campaign and its pacing configuration.
type Campaign struct {
	ID                 string
	TenantID           string
	Name               string
	Status             Status
	TemplateID         string
	BatchSize          int
	CurrentBatch       int
	MinIntervalSeconds int
	MaxIntervalSeconds int
	UseRandomIntervals bool
	BatchPauseMinutes  int
	MaxDailyVolume     int
	SentCount          int
	FailedCount        int
	LastSentAt         *time.Time
	CompletedAt        *time.Time
}

// Defaults applied when a campaign row carries zero values.
const (
	DefaultBatchSize         = 10
	DefaultMinInterval       = 30
	DefaultMaxInterval       = 50
	DefaultBatchPauseMinutes = 15
	DefaultMaxDailyVolume    = 200
)

// Normalize fills unset pacing fields with defaults.
func (c *Campaign) Normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MinIntervalSeconds <= 0 {
		c.MinIntervalSeconds = DefaultMinInterval
	}
	if c.MaxIntervalSeconds <= 0 {
		c.MaxIntervalSeconds = DefaultMaxInterval
	}
	if c.BatchPauseMinutes <= 0 {
		c.BatchPauseMinutes = DefaultBatchPauseMinutes
	}
	if c.MaxDailyVolume <= 0 {
		c.MaxDailyVolume = DefaultMaxDailyVolume
	}
}

// DeliveryTask is one message delivery owed to one contact.
type DeliveryTask struct {
	ID           string
	CampaignID   string
	ContactID    string
	Phone        string
	ContactName  string
	TemplateID   string
	BatchNumber  int
	Status       TaskStatus
	ErrorMessage string
	RetryCount   int
	SentAt       *time.Time
	MessageIDs   []string
}

// Template is an ordered sequence of content items to deliver per task.
// Interval items pause between the surrounding sends instead of sending.
type Template struct {
	ID       string
	Name     string
	Contents []domain.ContentItem
}

// Contact carries the fields available for template variable substitution.
type Contact struct {
	ID      string
	Name    string
	Phone   string
	Email   string
	Company string
	Role    string
	City    string
	State   string
}
