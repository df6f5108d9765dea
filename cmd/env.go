package main

import (
	"context"
	"os"
	"time"

	sflib "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/crm"
	"github.com/ibvi/lead-enrich/internal/enrich"
	"github.com/ibvi/lead-enrich/internal/health"
	"github.com/ibvi/lead-enrich/internal/person"
	"github.com/ibvi/lead-enrich/internal/scheduler"
	"github.com/ibvi/lead-enrich/internal/store"
	"github.com/ibvi/lead-enrich/internal/waterfall"
	"github.com/ibvi/lead-enrich/pkg/directd"
	"github.com/ibvi/lead-enrich/pkg/meili"
	"github.com/ibvi/lead-enrich/pkg/salesforce"
)

// env holds the wired application components shared by the commands.
type env struct {
	Store        store.Store
	Tracker      *health.Tracker
	Orchestrator *enrich.Orchestrator
	Scheduler    *scheduler.Scheduler
	Salesforce   salesforce.Client
}

// newStore opens the configured storage backend.
func newStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newSalesforceClient authenticates against Salesforce with the configured
// JWT credentials. Returns nil when Salesforce is not configured; the engine
// can run against already-imported leads without it.
func newSalesforceClient() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, nil
	}
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := sflib.Init(sflib.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return salesforce.NewClient(sf, salesforce.WithRateLimit(cfg.Salesforce.RateLimitRPS)), nil
}

// initEnv wires storage, clients, health tracking, the orchestrator, and the
// scheduler from the loaded configuration.
func initEnv(ctx context.Context) (*env, error) {
	st, err := newStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	sfClient, err := newSalesforceClient()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	var sink health.Sink = health.LogSink{}
	if cfg.Health.WebhookURL != "" {
		sink = health.NewWebhookSink(cfg.Health.WebhookURL)
	}
	alerter := health.NewAlerter(sink, time.Duration(cfg.Health.AlertCooldownMins)*time.Minute)
	tracker := health.NewTracker(health.TrackerConfig{
		Window:             time.Duration(cfg.Health.WindowMins) * time.Minute,
		MinSamples:         cfg.Health.MinSamples,
		ErrorRateThreshold: cfg.Health.ErrorRateThreshold,
		DownAfter:          time.Duration(cfg.Health.DownAfterMins) * time.Minute,
	}, alerter)

	ddClient := directd.NewClient(cfg.DirectD.BaseURL, cfg.DirectD.Key)
	tiers := []waterfall.Tier{
		&waterfall.DirectDPhoneTier{Client: ddClient},
		&waterfall.DirectDEmailTier{Client: ddClient},
	}
	if cfg.Meili.URL != "" {
		tiers = append(tiers, &waterfall.MeiliTier{
			Client: meili.NewClient(cfg.Meili.URL, cfg.Meili.Key),
			Index:  cfg.Meili.Index,
		})
	}
	resolver := waterfall.NewResolver(tiers,
		waterfall.WithMinNameScore(cfg.Waterfall.MinNameScore),
		waterfall.WithTierTimeout(time.Duration(cfg.Waterfall.TierTimeoutSecs)*time.Second),
		waterfall.WithHealthReporter(tracker),
	)

	fetcher := person.NewFetcher(ddClient, time.Duration(cfg.Fetch.TimeoutSecs)*time.Second)
	policy := enrich.NewRetryPolicy(cfg.Retry.Schedule(), cfg.Retry.MaxRetries)

	var opts []enrich.Option
	if sfClient != nil && cfg.Salesforce.PostNotes {
		opts = append(opts, enrich.WithNotifier(crm.NewNotifier(sfClient, "")))
	}
	orch := enrich.New(st, resolver, fetcher, policy, tracker, opts...)

	bands := scheduler.DefaultBands()
	if cfg.Scheduler.BandsFile != "" {
		bands, err = scheduler.LoadBands(cfg.Scheduler.BandsFile)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
	}
	sched := scheduler.New(st, orch, scheduler.Config{
		BatchSize:      cfg.Scheduler.BatchSize,
		RetryBatchSize: cfg.Scheduler.RetryBatchSize,
		InterLeadDelay: time.Duration(cfg.Scheduler.InterLeadDelayMs) * time.Millisecond,
		Bands:          bands,
		Policy:         policy,
	})

	return &env{
		Store:        st,
		Tracker:      tracker,
		Orchestrator: orch,
		Scheduler:    sched,
		Salesforce:   sfClient,
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
