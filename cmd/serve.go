package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ericsoncardosoweb/apollo-ai/campaign"
	campaignRepo "github.com/ericsoncardosoweb/apollo-ai/campaign/repository"
	"github.com/ericsoncardosoweb/apollo-ai/core/config"
	"github.com/ericsoncardosoweb/apollo-ai/core/database"
	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/gateway"
	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/valkey"
	"github.com/ericsoncardosoweb/apollo-ai/messaging/debounce"
	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
	messagingRepo "github.com/ericsoncardosoweb/apollo-ai/messaging/repository"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/convworker"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/delayplanner"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/leaselock"
	"github.com/ericsoncardosoweb/apollo-ai/reengagement"
	reengagementRepo "github.com/ericsoncardosoweb/apollo-ai/reengagement/repository"
	"github.com/ericsoncardosoweb/apollo-ai/ui/rest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the message-flow engine and its ops API",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Configuration error: %v", err)
	}
	initLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store.
	db, err := database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("Database connection failed: %v", err)
	}

	conversationStore := reengagementRepo.NewGormConversationStore(db)
	if err := conversationStore.InitSchema(ctx); err != nil {
		logrus.Fatalf("Schema migration failed: %v", err)
	}
	campaignStore := campaignRepo.NewGormCampaignStore(db)
	if err := campaignStore.InitSchema(ctx); err != nil {
		logrus.Fatalf("Schema migration failed: %v", err)
	}

	// Shared low-latency store.
	valkeyClient, err := valkey.NewClient(valkey.Config{
		Address:   cfg.Valkey.Address,
		Password:  cfg.Valkey.Password,
		DB:        cfg.Valkey.DB,
		KeyPrefix: cfg.Valkey.KeyPrefix,
	})
	if err != nil {
		logrus.Fatalf("Valkey connection failed: %v", err)
	}
	defer valkeyClient.Close()

	if err := valkeyClient.EnableExpiryNotifications(ctx); err != nil {
		// The reconciliation sweep covers lost notifications; degraded, not fatal.
		logrus.WithError(err).Warn("Expiry notifications unavailable, relying on sweep only")
	}

	// Outbound transport.
	planner := delayplanner.New()
	sender := gateway.NewSender(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	})
	sender.OnThrottle(func() {
		// Stretch campaign pacing until the provider calms down; the signal
		// key prefixes every campaign pacing delay ID.
		planner.SetRateLimitSignal(campaign.PacingSignalKey, 2.0)
	})

	// Debounce pipeline.
	bufferStore := messagingRepo.NewValkeyBufferStore(valkeyClient)
	locker := leaselock.NewValkeyLocker(valkeyClient)
	debouncer := debounce.NewDebouncer(bufferStore, locker, cfg.Debounce.Window, cfg.Debounce.LockTTL)

	pool := convworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	pool.Start(ctx)

	watcher := debounce.NewWatcher(debouncer, bufferStore, pool,
		cfg.Debounce.SweepInterval, cfg.Debounce.SweepGrace)
	watcher.Start(ctx)

	debouncer.OnBufferReady(func(pkt domain.MessagePacket) {
		// Response generation plugs in here; the core only coalesces.
		logrus.Infof("[PIPELINE] Packet ready tenant=%s chat=%s messages=%d audio=%t",
			pkt.TenantID, pkt.ConversationKey, len(pkt.Messages), pkt.HasAudio)
	})

	// Re-engagement.
	watchdog := reengagement.NewWatchdog(conversationStore, cfg.Reengagement.CheckInterval)
	watchdog.OnReengagementNeeded(func(event reengagement.Event) {
		// The event carries the prompt resolved from the agent's own list.
		prompt := event.Prompt
		if prompt == "" {
			prompt = reengagement.DefaultPolicy().PromptFor(event.AttemptNumber)
		}
		if _, err := sender.SendText(ctx, event.TenantID, event.Phone, prompt); err != nil {
			logrus.WithError(err).Errorf("[PIPELINE] Re-engagement send failed conversation=%s",
				event.ConversationID)
		}
	})
	watchdog.Start(ctx)

	// Campaigns.
	rateLimiter := campaignRepo.NewValkeyRateLimiter(valkeyClient)
	dispatcher := campaign.NewDispatcher(campaignStore, rateLimiter, sender, planner, cfg.Campaign.ScanInterval)
	dispatcher.Start(ctx)

	// Ops API.
	app := rest.NewApp(rest.Deps{
		Valkey:     valkeyClient,
		DB:         db,
		Debouncer:  debouncer,
		Pool:       pool,
		Watchdog:   watchdog,
		Dispatcher: dispatcher,
	})

	go func() {
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()
	logrus.Infof("Apollo AI engine listening on :%s", cfg.App.Port)

	<-ctx.Done()
	logrus.Info("Shutdown signal received")

	_ = app.Shutdown()
	dispatcher.Stop()
	watchdog.Stop()
	watcher.Stop()
	pool.Stop()
	logrus.Info("Shutdown complete")
}
