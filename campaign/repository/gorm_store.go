package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/ericsoncardosoweb/apollo-ai/campaign"
	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
)

// --- Persistence Models ---

type campaignModel struct {
	ID                 string `gorm:"primaryKey"`
	TenantID           string `gorm:"index:idx_campaigns_tenant;not null"`
	Name               string
	Status             string `gorm:"index:idx_campaigns_status;default:'draft'"`
	TemplateID         string
	BatchSize          int `gorm:"default:10"`
	CurrentBatch       int `gorm:"default:0"`
	MinIntervalSeconds int `gorm:"default:30"`
	MaxIntervalSeconds int `gorm:"default:50"`
	UseRandomIntervals bool `gorm:"default:true"`
	BatchPauseMinutes  int `gorm:"default:15"`
	MaxDailyVolume     int `gorm:"default:200"`
	SentCount          int `gorm:"default:0"`
	FailedCount        int `gorm:"default:0"`
	LastSentAt         *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (campaignModel) TableName() string {
	return "campaigns"
}

type deliveryTaskModel struct {
	ID           string `gorm:"primaryKey"`
	CampaignID   string `gorm:"index:idx_deliveries_campaign,priority:1;not null"`
	ContactID    string
	ContactPhone string `gorm:"not null"`
	ContactName  string
	TemplateID   string
	BatchNumber  int    `gorm:"index:idx_deliveries_campaign,priority:2;default:0"`
	Status       string `gorm:"index:idx_deliveries_status;default:'pending'"`
	ErrorMessage string `gorm:"type:text"`
	RetryCount   int    `gorm:"default:0"`
	SentAt       *time.Time
	QueuedAt     *time.Time
	MessageIDs   string `gorm:"type:text;default:'[]'"` // JSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (deliveryTaskModel) TableName() string {
	return "campaign_deliveries"
}

type templateModel struct {
	ID         string `gorm:"primaryKey"`
	TenantID   string `gorm:"index:idx_templates_tenant"`
	Name       string
	UsageCount int `gorm:"default:0"`
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (templateModel) TableName() string {
	return "message_templates"
}

type templateContentModel struct {
	ID              string `gorm:"primaryKey"`
	TemplateID      string `gorm:"index:idx_template_contents_template;not null"`
	Position        int    `gorm:"default:0"`
	ContentType     string `gorm:"not null"`
	Content         string `gorm:"type:text"`
	MediaURL        string
	MediaCaption    string `gorm:"type:text"`
	SendAsVoice     bool   `gorm:"default:false"`
	IntervalSeconds int    `gorm:"default:0"`
}

func (templateContentModel) TableName() string {
	return "template_contents"
}

type contactModel struct {
	ID           string `gorm:"primaryKey"`
	TenantID     string `gorm:"index:idx_contacts_tenant"`
	Name         string
	Phone        string `gorm:"index:idx_contacts_phone"`
	Email        string
	CompanyName  string
	CompanyRole  string
	AddressCity  string
	AddressState string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (contactModel) TableName() string {
	return "contacts"
}

// --- Repository Implementation ---

// GormCampaignStore implements campaign.Store over GORM.
type GormCampaignStore struct {
	db *gorm.DB
}

func NewGormCampaignStore(db *gorm.DB) *GormCampaignStore {
	return &GormCampaignStore{db: db}
}

func (r *GormCampaignStore) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&campaignModel{}, &deliveryTaskModel{}, &templateModel{}, &templateContentModel{}, &contactModel{})
}

func (r *GormCampaignStore) RunningCampaigns(ctx context.Context) ([]campaign.Campaign, error) {
	var models []campaignModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(campaign.StatusRunning)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]campaign.Campaign, 0, len(models))
	for _, m := range models {
		campaigns = append(campaigns, fromCampaignModel(m))
	}
	return campaigns, nil
}

func (r *GormCampaignStore) Campaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	var m campaignModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	c := fromCampaignModel(m)
	return &c, nil
}

func (r *GormCampaignStore) SetStatus(ctx context.Context, id string, status campaign.Status) error {
	return r.db.WithContext(ctx).Model(&campaignModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

func (r *GormCampaignStore) PendingTasks(ctx context.Context, campaignID string, batch, limit int) ([]campaign.DeliveryTask, error) {
	var models []deliveryTaskModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND batch_number = ? AND status = ?",
			campaignID, batch, string(campaign.TaskPending)).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	tasks := make([]campaign.DeliveryTask, 0, len(models))
	for _, m := range models {
		tasks = append(tasks, fromTaskModel(m))
	}
	return tasks, nil
}

func (r *GormCampaignStore) PendingCount(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&deliveryTaskModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, string(campaign.TaskPending)).
		Count(&count).Error
	return count, err
}

func (r *GormCampaignStore) AdvanceBatch(ctx context.Context, campaignID string, nextBatch int) error {
	return r.db.WithContext(ctx).Model(&campaignModel{}).
		Where("id = ?", campaignID).
		Update("current_batch", nextBatch).Error
}

func (r *GormCampaignStore) CompleteCampaign(ctx context.Context, campaignID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&campaignModel{}).
		Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			"status":       string(campaign.StatusCompleted),
			"completed_at": &now,
		}).Error
}

func (r *GormCampaignStore) MarkTaskSending(ctx context.Context, taskID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&deliveryTaskModel{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":    string(campaign.TaskSending),
			"queued_at": &now,
		}).Error
}

func (r *GormCampaignStore) MarkTaskSent(ctx context.Context, taskID string, messageIDs []string) error {
	now := time.Now()
	ids, err := json.Marshal(messageIDs)
	if err != nil {
		ids = []byte("[]")
	}
	return r.db.WithContext(ctx).Model(&deliveryTaskModel{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":      string(campaign.TaskSent),
			"sent_at":     &now,
			"message_ids": string(ids),
		}).Error
}

func (r *GormCampaignStore) MarkTaskFailed(ctx context.Context, taskID, errorMessage string) error {
	return r.db.WithContext(ctx).Model(&deliveryTaskModel{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":        string(campaign.TaskFailed),
			"error_message": errorMessage,
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error
}

func (r *GormCampaignStore) RecordCampaignSend(ctx context.Context, campaignID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&campaignModel{}).
		Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			"sent_count":   gorm.Expr("sent_count + 1"),
			"last_sent_at": &now,
		}).Error
}

func (r *GormCampaignStore) Template(ctx context.Context, templateID string) (*campaign.Template, error) {
	var m templateModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", templateID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	var contents []templateContentModel
	err := r.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("position ASC").
		Find(&contents).Error
	if err != nil {
		return nil, err
	}

	tmpl := &campaign.Template{ID: m.ID, Name: m.Name}
	for _, c := range contents {
		tmpl.Contents = append(tmpl.Contents, domain.ContentItem{
			ContentType:     domain.ContentType(c.ContentType),
			Content:         c.Content,
			MediaURL:        c.MediaURL,
			MediaCaption:    c.MediaCaption,
			SendAsVoice:     c.SendAsVoice,
			IntervalSeconds: c.IntervalSeconds,
		})
	}
	return tmpl, nil
}

func (r *GormCampaignStore) Contact(ctx context.Context, contactID string) (*campaign.Contact, error) {
	var m contactModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", contactID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &campaign.Contact{
		ID:      m.ID,
		Name:    m.Name,
		Phone:   m.Phone,
		Email:   m.Email,
		Company: m.CompanyName,
		Role:    m.CompanyRole,
		City:    m.AddressCity,
		State:   m.AddressState,
	}, nil
}

func (r *GormCampaignStore) IncrementTemplateUsage(ctx context.Context, templateID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&templateModel{}).
		Where("id = ?", templateID).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": &now,
		}).Error
}

// --- Mapping ---

func fromCampaignModel(m campaignModel) campaign.Campaign {
	return campaign.Campaign{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Name:               m.Name,
		Status:             campaign.Status(m.Status),
		TemplateID:         m.TemplateID,
		BatchSize:          m.BatchSize,
		CurrentBatch:       m.CurrentBatch,
		MinIntervalSeconds: m.MinIntervalSeconds,
		MaxIntervalSeconds: m.MaxIntervalSeconds,
		UseRandomIntervals: m.UseRandomIntervals,
		BatchPauseMinutes:  m.BatchPauseMinutes,
		MaxDailyVolume:     m.MaxDailyVolume,
		SentCount:          m.SentCount,
		FailedCount:        m.FailedCount,
		LastSentAt:         m.LastSentAt,
		CompletedAt:        m.CompletedAt,
	}
}

func fromTaskModel(m deliveryTaskModel) campaign.DeliveryTask {
	var ids []string
	// Broken JSON leaves the slice empty.
	_ = json.Unmarshal([]byte(m.MessageIDs), &ids)

	return campaign.DeliveryTask{
		ID:           m.ID,
		CampaignID:   m.CampaignID,
		ContactID:    m.ContactID,
		Phone:        m.ContactPhone,
		ContactName:  m.ContactName,
		TemplateID:   m.TemplateID,
		BatchNumber:  m.BatchNumber,
		Status:       campaign.TaskStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		RetryCount:   m.RetryCount,
		SentAt:       m.SentAt,
		MessageIDs:   ids,
	}
}
