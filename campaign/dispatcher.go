package campaign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/delayplanner"
)

// DefaultScanInterval is how often the dispatcher looks for running
// campaigns that are not yet being worked.
const DefaultScanInterval = 5 * time.Second

// PacingSignalKey scopes rate-limit signals to campaign inter-send pacing:
// every pacing delay ID starts with it, so one signal registered under this
// key slows all campaigns at once.
const PacingSignalKey = "campaign"

// Store is the durable campaign state the dispatcher reads and writes.
type Store interface {
	RunningCampaigns(ctx context.Context) ([]Campaign, error)
	Campaign(ctx context.Context, id string) (*Campaign, error)
	SetStatus(ctx context.Context, id string, status Status) error

	PendingTasks(ctx context.Context, campaignID string, batch, limit int) ([]DeliveryTask, error)
	PendingCount(ctx context.Context, campaignID string) (int64, error)
	AdvanceBatch(ctx context.Context, campaignID string, nextBatch int) error
	CompleteCampaign(ctx context.Context, campaignID string) error

	MarkTaskSending(ctx context.Context, taskID string) error
	MarkTaskSent(ctx context.Context, taskID string, messageIDs []string) error
	MarkTaskFailed(ctx context.Context, taskID, errorMessage string) error

	// RecordCampaignSend bumps the campaign's aggregate sent counter and
	// last-sent timestamp after one fully delivered task.
	RecordCampaignSend(ctx context.Context, campaignID string) error

	Template(ctx context.Context, templateID string) (*Template, error)
	Contact(ctx context.Context, contactID string) (*Contact, error)
	IncrementTemplateUsage(ctx context.Context, templateID string) error
}

// RateLimiter tracks per-campaign daily send volume in the shared store.
type RateLimiter interface {
	// SentToday returns the campaign's counter for the current 24h window.
	SentToday(ctx context.Context, campaignID string) (int, error)
	// RecordSend atomically increments the counter, starting the 24h window
	// on the first send, and returns the new value.
	RecordSend(ctx context.Context, campaignID string) (int, error)
}

// Stats is a point-in-time dispatcher snapshot for the ops API.
type Stats struct {
	ActiveCampaigns []string `json:"active_campaigns"`
	TotalSent       int64    `json:"total_sent"`
	TotalFailed     int64    `json:"total_failed"`
}

// Dispatcher drives running campaigns. Each campaign gets its own worker
// goroutine so a long batch pause on one never stalls the others; within a
// campaign, tasks are strictly sequential with pacing delays in between.
type Dispatcher struct {
	store        Store
	rate         RateLimiter
	sender       domain.Sender
	planner      *delayplanner.Planner
	scanInterval time.Duration

	mu      sync.Mutex
	workers map[string]context.CancelFunc

	totalSent   int64
	totalFailed int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher creates a Dispatcher. A non-positive scanInterval falls back
// to the default.
func NewDispatcher(store Store, rate RateLimiter, sender domain.Sender, planner *delayplanner.Planner, scanInterval time.Duration) *Dispatcher {
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	return &Dispatcher{
		store:        store,
		rate:         rate,
		sender:       sender,
		planner:      planner,
		scanInterval: scanInterval,
		workers:      make(map[string]context.CancelFunc),
	}
}

// Start launches the scan loop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.scan(ctx)
			}
		}
	}()
	logrus.Infof("[CAMPAIGN] Dispatcher started (scan every %s)", d.scanInterval)
}

// Stop cancels all campaign workers and waits for them to drain.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		logrus.Info("[CAMPAIGN] Dispatcher stopped")
	})
}

// StartCampaign moves a draft campaign to running; the scan loop spawns its
// worker within one interval.
func (d *Dispatcher) StartCampaign(ctx context.Context, campaignID string) error {
	return d.store.SetStatus(ctx, campaignID, StatusRunning)
}

// Pause sets the campaign to paused; its worker notices on the next
// iteration and exits.
func (d *Dispatcher) Pause(ctx context.Context, campaignID string) error {
	return d.store.SetStatus(ctx, campaignID, StatusPaused)
}

// Resume sets a paused campaign back to running; the scan loop picks it up.
func (d *Dispatcher) Resume(ctx context.Context, campaignID string) error {
	return d.store.SetStatus(ctx, campaignID, StatusRunning)
}

// Cancel terminally stops a campaign.
func (d *Dispatcher) Cancel(ctx context.Context, campaignID string) error {
	return d.store.SetStatus(ctx, campaignID, StatusCancelled)
}

// GetStats returns a snapshot for the ops API.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	active := make([]string, 0, len(d.workers))
	for id := range d.workers {
		active = append(active, id)
	}
	return Stats{
		ActiveCampaigns: active,
		TotalSent:       d.totalSent,
		TotalFailed:     d.totalFailed,
	}
}

// scan starts a worker for every running campaign that doesn't have one.
func (d *Dispatcher) scan(ctx context.Context) {
	campaigns, err := d.store.RunningCampaigns(ctx)
	if err != nil {
		logrus.WithError(err).Error("[CAMPAIGN] Failed to list running campaigns")
		return
	}

	for _, c := range campaigns {
		d.mu.Lock()
		_, active := d.workers[c.ID]
		if !active {
			workerCtx, cancel := context.WithCancel(ctx)
			d.workers[c.ID] = cancel
			d.wg.Add(1)
			go d.runCampaign(workerCtx, c.ID)
		}
		d.mu.Unlock()
	}
}

// runCampaign is one campaign's worker loop: process batches until the
// campaign leaves the running state or the dispatcher shuts down.
func (d *Dispatcher) runCampaign(ctx context.Context, campaignID string) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.workers, campaignID)
		d.mu.Unlock()
	}()

	logrus.Infof("[CAMPAIGN] Worker started campaign=%s", campaignID)

	for {
		if ctx.Err() != nil {
			return
		}

		done, wait, err := d.processBatch(ctx, campaignID)
		if err != nil {
			logrus.WithError(err).Errorf("[CAMPAIGN] Batch processing failed campaign=%s", campaignID)
			wait = d.scanInterval
		}
		if done {
			logrus.Infof("[CAMPAIGN] Worker finished campaign=%s", campaignID)
			return
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// processBatch runs one dispatcher iteration for the campaign. Returns
// done=true when the worker should exit, and how long to wait before the
// next iteration otherwise.
func (d *Dispatcher) processBatch(ctx context.Context, campaignID string) (done bool, wait time.Duration, err error) {
	c, err := d.store.Campaign(ctx, campaignID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to load campaign: %w", err)
	}
	if c == nil || c.Status != StatusRunning {
		return true, 0, nil
	}
	c.Normalize()

	sentToday, err := d.rate.SentToday(ctx, c.ID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read daily counter: %w", err)
	}
	if sentToday >= c.MaxDailyVolume {
		logrus.Infof("[CAMPAIGN] Daily limit reached campaign=%s sent=%s limit=%s",
			c.ID, humanize.Comma(int64(sentToday)), humanize.Comma(int64(c.MaxDailyVolume)))
		// Nothing to do until the 24h window rolls over; re-check lazily.
		return false, time.Minute, nil
	}

	tasks, err := d.store.PendingTasks(ctx, c.ID, c.CurrentBatch, c.BatchSize)
	if err != nil {
		return false, 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	if len(tasks) == 0 {
		if err := d.store.AdvanceBatch(ctx, c.ID, c.CurrentBatch+1); err != nil {
			return false, 0, fmt.Errorf("failed to advance batch: %w", err)
		}

		remaining, err := d.store.PendingCount(ctx, c.ID)
		if err != nil {
			return false, 0, fmt.Errorf("failed to count pending tasks: %w", err)
		}
		if remaining == 0 {
			if err := d.store.CompleteCampaign(ctx, c.ID); err != nil {
				return false, 0, fmt.Errorf("failed to complete campaign: %w", err)
			}
			logrus.Infof("[CAMPAIGN] Completed campaign=%s", c.ID)
			return true, 0, nil
		}

		pause := time.Duration(c.BatchPauseMinutes) * time.Minute
		logrus.Infof("[CAMPAIGN] Batch %d drained campaign=%s, pausing %s",
			c.CurrentBatch, c.ID, pause)
		return false, pause, nil
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return false, 0, nil
		}

		// The daily cap is enforced per send, not only per batch.
		sentToday, err := d.rate.SentToday(ctx, c.ID)
		if err == nil && sentToday >= c.MaxDailyVolume {
			return false, time.Minute, nil
		}

		d.processTask(ctx, c, task)

		// Adaptive pacing: a provider 429 registers a PacingSignalKey-scoped
		// multiplier that stretches these waits without touching campaign
		// config. With no signal active this is the configured interval.
		minS := float64(c.MinIntervalSeconds)
		maxS := float64(c.MaxIntervalSeconds)
		if !c.UseRandomIntervals {
			maxS = minS
		}
		d.planner.Delay(ctx, delayplanner.Config{
			MinSeconds: minS,
			MaxSeconds: maxS,
			Strategy:   delayplanner.StrategyAdaptive,
		}, PacingSignalKey+"_"+c.ID)
	}

	return false, 0, nil
}

// processTask sends one delivery. Failure is local to the task: it is
// recorded on the row and never aborts the batch.
func (d *Dispatcher) processTask(ctx context.Context, c *Campaign, task DeliveryTask) {
	messageIDs, err := d.sendTask(ctx, c, task)
	if err != nil {
		logrus.WithError(err).Errorf("[CAMPAIGN] Delivery failed campaign=%s task=%s", c.ID, task.ID)
		if markErr := d.store.MarkTaskFailed(ctx, task.ID, err.Error()); markErr != nil {
			logrus.WithError(markErr).Errorf("[CAMPAIGN] Failed to mark task failed task=%s", task.ID)
		}
		d.mu.Lock()
		d.totalFailed++
		d.mu.Unlock()
		return
	}

	if err := d.store.MarkTaskSent(ctx, task.ID, messageIDs); err != nil {
		logrus.WithError(err).Errorf("[CAMPAIGN] Failed to mark task sent task=%s", task.ID)
	}
	if _, err := d.rate.RecordSend(ctx, c.ID); err != nil {
		logrus.WithError(err).Warnf("[CAMPAIGN] Failed to bump daily counter campaign=%s", c.ID)
	}
	if err := d.store.RecordCampaignSend(ctx, c.ID); err != nil {
		logrus.WithError(err).Warnf("[CAMPAIGN] Failed to update campaign stats campaign=%s", c.ID)
	}
	if err := d.store.IncrementTemplateUsage(ctx, task.TemplateID); err != nil {
		logrus.WithError(err).Warnf("[CAMPAIGN] Failed to bump template usage template=%s", task.TemplateID)
	}

	d.mu.Lock()
	d.totalSent++
	d.mu.Unlock()

	logrus.Infof("[CAMPAIGN] Delivery sent campaign=%s task=%s phone=%s",
		c.ID, task.ID, maskPhone(task.Phone))
}

// sendTask resolves the template and pushes every content item through the
// sender, honoring interval pseudo-items as fixed pauses.
func (d *Dispatcher) sendTask(ctx context.Context, c *Campaign, task DeliveryTask) ([]string, error) {
	if err := d.store.MarkTaskSending(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("failed to mark task sending: %w", err)
	}

	tmpl, err := d.store.Template(ctx, task.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil || len(tmpl.Contents) == 0 {
		return nil, fmt.Errorf("template %s has no contents", task.TemplateID)
	}

	var contact *Contact
	if task.ContactID != "" {
		contact, err = d.store.Contact(ctx, task.ContactID)
		if err != nil {
			logrus.WithError(err).Warnf("[CAMPAIGN] Failed to load contact contact=%s", task.ContactID)
		}
	}

	now := time.Now()
	var messageIDs []string
	for _, item := range tmpl.Contents {
		if item.ContentType == domain.ContentTypeInterval {
			seconds := float64(item.IntervalSeconds)
			if seconds <= 0 {
				seconds = 30
			}
			d.planner.Delay(ctx, delayplanner.Config{
				MinSeconds: seconds,
				MaxSeconds: seconds,
				Strategy:   delayplanner.StrategyFixed,
			}, "template_interval_"+task.ID)
			continue
		}

		resolved := ResolveContent(item, contact, now)

		var messageID string
		if resolved.ContentType == domain.ContentTypeText {
			messageID, err = d.sender.SendText(ctx, c.TenantID, task.Phone, resolved.Content)
		} else {
			messageID, err = d.sender.SendContent(ctx, c.TenantID, task.Phone, resolved)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to send %s item: %w", resolved.ContentType, err)
		}
		if messageID != "" {
			messageIDs = append(messageIDs, messageID)
		}
	}

	return messageIDs, nil
}

// maskPhone hides the subscriber part of a phone number in logs.
func maskPhone(phone string) string {
	if len(phone) <= 8 {
		return phone
	}
	return phone[:8] + "****"
}
