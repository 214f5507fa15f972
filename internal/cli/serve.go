package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/councilbot/councilbot/internal/agent"
	"github.com/councilbot/councilbot/internal/audit"
	"github.com/councilbot/councilbot/internal/bus"
	"github.com/councilbot/councilbot/internal/channels"
	"github.com/councilbot/councilbot/internal/config"
	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/httpapi"
	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/provider"
	"github.com/councilbot/councilbot/internal/scheduler"
	"github.com/councilbot/councilbot/internal/timeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Slack and answer channel events",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := setupLogging(cfg.Logging, cmd.ErrOrStderr())
	printHeader(cmd.OutOrStdout(), "Council Bot")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	reg, err := persona.LoadFile(cfg.Personas.Path)
	if err != nil {
		return fmt.Errorf("personas: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock := scheduler.NewInstanceLock(lockPath(cfg))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	var store *timeline.TimelineService
	if cfg.Store.Path != "" {
		store, err = timeline.NewTimelineService(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("turn store: %w", err)
		}
		defer store.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	faults := fault.Multi{fault.LogReporter{Logger: logger}}
	if cfg.Kafka.Enabled() {
		host, _ := os.Hostname()
		pub, err := audit.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, host)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		faults = append(faults, pub)
		g.Go(func() error { return pub.Run(gctx) })
		logger.Info("Fault audit enabled", "topic", cfg.Kafka.AuditTopic)
	}

	gateway, err := provider.NewGeminiGateway(ctx, provider.GeminiOptions{
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Name,
		BaseURL: cfg.Model.APIBase,
		Timeout: cfg.Model.Timeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}

	msgBus := bus.NewMessageBus()
	slackCh, err := channels.NewSlackChannel(channels.SlackOptions{
		BotToken:       cfg.Slack.BotToken,
		AppToken:       cfg.Slack.AppToken,
		APIBase:        cfg.Slack.APIBase,
		RequireMention: cfg.Slack.RequireMention,
		AlwaysListen:   reg.IsMeetingChannel,
		DedupeTTL:      cfg.Slack.DedupeTTL.Std(),
		Faults:         faults,
		Logger:         logger,
		Debug:          cfg.Slack.Debug,
	}, msgBus)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	if err := slackCh.Identify(ctx); err != nil {
		return err
	}

	var meeting *agent.Meeting
	if reg.MeetingChannel() != "" {
		meeting, err = agent.NewMeeting(agent.MeetingOptions{
			Registry:      reg,
			Gateway:       gateway,
			Publisher:     slackCh,
			Faults:        faults,
			Pace:          cfg.Meeting.Pace.Std(),
			ApologyFormat: cfg.Routing.ApologyFormat,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
	}

	routerOpts := agent.RouterOptions{
		Registry:          reg,
		Gateway:           gateway,
		Publisher:         slackCh,
		Context:           contextSource(cfg, slackCh, store, faults),
		Meeting:           meeting,
		Faults:            faults,
		FallbackToDefault: cfg.Routing.FallbackToDefault,
		ApologyFormat:     cfg.Routing.ApologyFormat,
		StoreTimeout:      cfg.Store.WriteTimeout.Std(),
		BotUserID:         slackCh.BotUserID,
		Logger:            logger,
	}
	if store != nil {
		routerOpts.Store = store
	}
	router, err := agent.NewRouter(routerOpts)
	if err != nil {
		return err
	}
	loop, err := agent.NewLoop(agent.LoopOptions{
		Bus:           msgBus,
		Handler:       router,
		MaxConcurrent: cfg.Routing.MaxConcurrent,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Council bot starting",
		"version", version,
		"model", gateway.Model(),
		"context_source", cfg.Routing.ContextSource,
		"meeting_channel", reg.MeetingChannel(),
		"bindings", len(reg.Bindings()),
	)

	g.Go(func() error { return slackCh.Start(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	if cfg.Admin.Addr != "" {
		startedAt := time.Now()
		deps := httpapi.Deps{
			Registry: reg,
			Status: func() httpapi.Status {
				return httpapi.Status{
					StartedAt:      startedAt,
					Handled:        loop.Handled(),
					PendingInbound: msgBus.InboundSize(),
					ContextSource:  cfg.Routing.ContextSource,
					Model:          gateway.Model(),
				}
			},
		}
		if store != nil {
			deps.Store = store
		}
		g.Go(func() error { return httpapi.Serve(gctx, cfg.Admin.Addr, httpapi.NewRouter(deps)) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Council bot stopped")
	return nil
}

// contextSource picks the single-turn context strategy for this deployment.
func contextSource(cfg *config.Config, history agent.ThreadHistory, store *timeline.TimelineService, faults fault.Reporter) agent.ContextSource {
	if cfg.Routing.ContextSource == config.ContextStore && store != nil {
		return agent.StoreContext{Store: store, Limit: cfg.Store.HistoryLimit, Faults: faults}
	}
	return agent.ThreadContext{History: history}
}

func lockPath(cfg *config.Config) string {
	if cfg.Store.Path != "" {
		return filepath.Join(filepath.Dir(cfg.Store.Path), "serve.lock")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, config.ConfigDir, "serve.lock")
	}
	return filepath.Join(os.TempDir(), "councilbot-serve.lock")
}

func openStore(cfg *config.Config) (*timeline.TimelineService, error) {
	if cfg.Store.Path == "" {
		return nil, errors.New("store.path is not configured")
	}
	if _, err := os.Stat(cfg.Store.Path); err != nil {
		return nil, fmt.Errorf("turn store %s: %w", cfg.Store.Path, err)
	}
	return timeline.NewTimelineService(cfg.Store.Path)
}
