package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/coverage"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/export"
	"github.com/sells-group/outreach-engine/internal/geoindex"
	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/orchestrator"
	"github.com/sells-group/outreach-engine/internal/store"
	anthropicpkg "github.com/sells-group/outreach-engine/pkg/anthropic"
	"github.com/sells-group/outreach-engine/pkg/bouncer"
	"github.com/sells-group/outreach-engine/pkg/listings"
	"github.com/sells-group/outreach-engine/pkg/pagescan"
	"github.com/sells-group/outreach-engine/pkg/pronet"
	sfpkg "github.com/sells-group/outreach-engine/pkg/salesforce"
)

// engineEnv holds the store, clients, and orchestrator shared by the
// campaign, coverage, and serve commands.
type engineEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Exporter     *export.Exporter
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, all vendor clients, and the orchestrator.
// Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	calc := ledger.NewCalculator(cfg.Pricing)
	recorder := ledger.NewRecorder(calc, st)

	// Relevance research is optional; without a key the selector degrades
	// to density-only scoring.
	var researcher coverage.Researcher
	if cfg.Anthropic.Key != "" {
		researcher = coverage.NewClaudeResearcher(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	} else {
		zap.L().Warn("OUTREACH_ANTHROPIC_KEY not set, coverage selection will be density-only")
	}
	selector := coverage.NewSelector(geoindex.New(st, 0), researcher, calc, cfg.Listings.MaxResults)

	listingsClient := listings.NewClient(cfg.Listings.Key,
		listings.WithBaseURL(cfg.Listings.BaseURL),
		listings.WithRateLimit(cfg.Listings.RateLimit, int(cfg.Listings.RateLimit)),
	)
	scanner := pagescan.NewScanner(
		pagescan.WithUserAgent(cfg.Pagescan.UserAgent),
		pagescan.WithRateLimit(cfg.Pagescan.RateLimit, int(cfg.Pagescan.RateLimit)),
	)
	pronetClient := pronet.NewClient(cfg.Pronet.Key,
		pronet.WithBaseURL(cfg.Pronet.BaseURL),
		pronet.WithRateLimit(cfg.Pronet.RateLimit, int(cfg.Pronet.RateLimit)),
	)
	bouncerClient := bouncer.NewClient(cfg.Bouncer.Key,
		bouncer.WithBaseURL(cfg.Bouncer.BaseURL),
	)

	conc := cfg.Enrich.Concurrency
	orch := orchestrator.New(
		st,
		selector,
		enrich.NewDiscoverer(st, listingsClient, recorder, conc),
		enrich.NewPageEnricher(st, scanner, recorder, conc),
		enrich.NewPronetEnricher(st, pronetClient, recorder, conc),
		enrich.NewVerifier(st, bouncerClient, recorder, cfg.Bouncer.BatchSize, cfg.Bouncer.BatchDelay),
		recorder,
	)

	return &engineEnv{
		Store:        st,
		Orchestrator: orch,
		Exporter:     export.New(st),
	}, nil
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (OUTREACH_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}
