// Package orchestrator owns the campaign lifecycle: setup via the coverage
// selector, the four enrichment phases in order, pause and resume, and
// reconciliation of campaigns stranded in running by a dead process.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/coverage"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

// TransitionError reports a campaign status change the lifecycle does not
// allow.
type TransitionError struct {
	From model.CampaignStatus
	To   model.CampaignStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("orchestrator: invalid transition %s -> %s", e.From, e.To)
}

// Allowed lifecycle moves. Terminal states have no exits.
var validTransitions = map[model.CampaignStatus][]model.CampaignStatus{
	model.CampaignDraft:   {model.CampaignRunning},
	model.CampaignRunning: {model.CampaignPaused, model.CampaignCompleted, model.CampaignFailed},
	model.CampaignPaused:  {model.CampaignRunning},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to model.CampaignStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateRequest describes a new campaign.
type CreateRequest struct {
	Name      string
	Keywords  []string
	Geography string
	Profile   model.CoverageProfile
}

// Orchestrator drives campaigns through their lifecycle. One orchestrator
// serves all campaigns; per-campaign execution state is kept in the cancel
// registry so Pause can interrupt a run in this process.
type Orchestrator struct {
	store      store.Store
	selector   *coverage.Selector
	discoverer *enrich.Discoverer
	page       *enrich.PageEnricher
	pronet     *enrich.PronetEnricher
	verifier   *enrich.Verifier
	recorder   *ledger.Recorder

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator.
func New(
	st store.Store,
	selector *coverage.Selector,
	discoverer *enrich.Discoverer,
	page *enrich.PageEnricher,
	pronet *enrich.PronetEnricher,
	verifier *enrich.Verifier,
	recorder *ledger.Recorder,
) *Orchestrator {
	return &Orchestrator{
		store:      st,
		selector:   selector,
		discoverer: discoverer,
		page:       page,
		pronet:     pronet,
		verifier:   verifier,
		recorder:   recorder,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Create selects coverage for the requested geography, persists the campaign
// in draft with its postal targets, and records the research spend the
// selection incurred. The campaign does not run until Execute.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*model.Campaign, *coverage.Selection, error) {
	if req.Name == "" {
		return nil, nil, eris.New("orchestrator: campaign name is required")
	}
	if len(req.Keywords) == 0 {
		return nil, nil, eris.New("orchestrator: at least one keyword is required")
	}
	if req.Geography == "" {
		return nil, nil, eris.New("orchestrator: geography is required")
	}
	profile := req.Profile
	if profile == "" {
		profile = model.ProfileBalanced
	}
	if !profile.Valid() {
		return nil, nil, eris.Errorf("orchestrator: unknown coverage profile %q", profile)
	}

	selection, err := o.selector.Select(ctx, req.Keywords, req.Geography, profile)
	if err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: select coverage")
	}

	campaign := &model.Campaign{
		Name:      req.Name,
		Keywords:  req.Keywords,
		Geography: req.Geography,
		Profile:   profile,
		Status:    model.CampaignDraft,
	}
	if err := o.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: create campaign")
	}

	for i := range selection.Targets {
		selection.Targets[i].CampaignID = campaign.ID
	}
	if err := o.store.InsertTargets(ctx, selection.Targets); err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: insert targets")
	}
	if err := o.store.UpdateCampaignSetup(ctx, campaign.ID, len(selection.Targets), selection.EstimatedCost); err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: save setup")
	}
	if err := o.recorder.Record(ctx, campaign.ID, model.ServiceResearch, selection.ResearchQueries); err != nil {
		return nil, nil, err
	}

	campaign.TargetCount = len(selection.Targets)
	campaign.EstimatedCost = selection.EstimatedCost

	zap.L().Info("campaign created",
		zap.String("component", "orchestrator"),
		zap.String("campaign_id", campaign.ID),
		zap.Int("targets", campaign.TargetCount),
		zap.Float64("estimated_cost", campaign.EstimatedCost),
		zap.Bool("degraded", selection.Degraded),
	)
	return campaign, selection, nil
}

// Execute runs a draft or paused campaign to completion. Work already
// persisted by an earlier run is skipped, so executing a paused campaign
// picks up where it stopped without repeating paid calls.
//
// A pause observed mid-run leaves the campaign paused and returns nil; any
// other failure moves it to failed with the cause in the error note.
func (o *Orchestrator) Execute(ctx context.Context, campaignID string) error {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, campaign, model.CampaignRunning, ""); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.registerCancel(campaignID, cancel)
	defer o.unregisterCancel(campaignID)

	err = o.runPhases(runCtx, campaign)
	if err == nil {
		counts, countErr := o.store.CountBusinesses(ctx, campaignID)
		if countErr != nil {
			return countErr
		}
		if counts.Total == 0 {
			return o.transition(ctx, campaign, model.CampaignFailed, "no businesses discovered across any target")
		}
		return o.transition(ctx, campaign, model.CampaignCompleted, "")
	}

	// A cancelled run is a pause when Pause already moved the status;
	// the campaign stays paused and keeps its progress.
	if runCtx.Err() != nil {
		current, getErr := o.store.GetCampaign(context.WithoutCancel(ctx), campaignID)
		if getErr == nil && current.Status == model.CampaignPaused {
			zap.L().Info("campaign paused mid-run",
				zap.String("component", "orchestrator"),
				zap.String("campaign_id", campaignID),
			)
			return nil
		}
	}

	note := err.Error()
	if resilience.IsQuota(err) {
		note = "quota exhausted: " + note
	}
	if trErr := o.transition(context.WithoutCancel(ctx), campaign, model.CampaignFailed, note); trErr != nil {
		return eris.Wrap(err, "orchestrator: campaign failed and status update also failed")
	}
	return err
}

// Resume is Execute for a paused campaign, named for intent at call sites.
func (o *Orchestrator) Resume(ctx context.Context, campaignID string) error {
	return o.Execute(ctx, campaignID)
}

func (o *Orchestrator) runPhases(ctx context.Context, campaign *model.Campaign) error {
	targets, err := o.store.ListTargets(ctx, campaign.ID)
	if err != nil {
		return err
	}

	if _, err := o.discoverer.Run(ctx, campaign, targets); err != nil {
		return err
	}
	if err := o.refreshTotals(ctx, campaign.ID); err != nil {
		return err
	}
	if err := o.checkPaused(ctx, campaign.ID); err != nil {
		return err
	}

	if _, err := o.page.Run(ctx, campaign.ID); err != nil {
		return err
	}
	if err := o.refreshTotals(ctx, campaign.ID); err != nil {
		return err
	}
	if err := o.checkPaused(ctx, campaign.ID); err != nil {
		return err
	}

	if _, err := o.pronet.Run(ctx, campaign.ID); err != nil {
		return err
	}
	if err := o.refreshTotals(ctx, campaign.ID); err != nil {
		return err
	}
	if err := o.checkPaused(ctx, campaign.ID); err != nil {
		return err
	}

	if _, err := o.verifier.Run(ctx, campaign.ID); err != nil {
		return err
	}
	return o.refreshTotals(ctx, campaign.ID)
}

func (o *Orchestrator) refreshTotals(ctx context.Context, campaignID string) error {
	counts, err := o.store.CountBusinesses(ctx, campaignID)
	if err != nil {
		return err
	}
	return o.store.UpdateCampaignTotals(ctx, campaignID, counts.Total, counts.WithEmail)
}

// checkPaused lets a pause issued from another process take effect at the
// next phase boundary.
func (o *Orchestrator) checkPaused(ctx context.Context, campaignID string) error {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == model.CampaignPaused {
		return context.Canceled
	}
	return nil
}

// Pause moves a running campaign to paused and interrupts its execution if
// this process is running it. In-flight work units finish and persist; no
// completed unit is repeated on resume.
func (o *Orchestrator) Pause(ctx context.Context, campaignID string) error {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, campaign, model.CampaignPaused, ""); err != nil {
		return err
	}

	o.mu.Lock()
	cancel, ok := o.cancels[campaignID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Status returns the campaign with its derived actual cost.
func (o *Orchestrator) Status(ctx context.Context, campaignID string) (*model.Campaign, error) {
	return o.store.GetCampaign(ctx, campaignID)
}

// Analytics summarizes progress and unit economics for one campaign.
func (o *Orchestrator) Analytics(ctx context.Context, campaignID string) (*model.Analytics, error) {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	targets, err := o.store.ListTargets(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := o.store.CountBusinesses(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, t := range targets {
		if t.Completed {
			completed++
		}
	}

	a := &model.Analytics{
		CampaignID:       campaign.ID,
		Status:           string(campaign.Status),
		TargetsTotal:     len(targets),
		TargetsCompleted: completed,
		BusinessesFound:  counts.Total,
		EmailsFound:      counts.WithEmail,
		VerifiedSafe:     counts.VerifiedSafe,
		ActualCost:       campaign.ActualCost,
	}
	if len(targets) > 0 {
		a.CoverageCompletion = float64(completed) / float64(len(targets)) * 100
	}
	if counts.Total > 0 {
		a.EmailRate = float64(counts.WithEmail) / float64(counts.Total) * 100
		a.CostPerBusiness = campaign.ActualCost / float64(counts.Total)
	}
	if counts.WithEmail > 0 {
		a.CostPerEmail = campaign.ActualCost / float64(counts.WithEmail)
	}
	return a, nil
}

// Reconcile resolves campaigns stranded in running by a crashed or killed
// process. A stale campaign with discovered businesses completes with a
// note; one with nothing discovered fails. Returns the campaigns touched.
func (o *Orchestrator) Reconcile(ctx context.Context, staleAfter time.Duration) ([]model.Campaign, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	stale, err := o.store.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "orchestrator"))
	touched := make([]model.Campaign, 0, len(stale))
	for i := range stale {
		c := stale[i]
		counts, err := o.store.CountBusinesses(ctx, c.ID)
		if err != nil {
			return touched, err
		}

		status := model.CampaignFailed
		note := "reconciled: stale running campaign with no discovered businesses"
		if counts.Total > 0 {
			status = model.CampaignCompleted
			note = fmt.Sprintf("reconciled: stale running campaign closed with %d businesses", counts.Total)
		}
		if err := o.transition(ctx, &c, status, note); err != nil {
			return touched, err
		}
		if err := o.store.UpdateCampaignTotals(ctx, c.ID, counts.Total, counts.WithEmail); err != nil {
			return touched, err
		}

		log.Info("campaign reconciled",
			zap.String("campaign_id", c.ID),
			zap.String("status", string(status)),
			zap.Int("businesses", counts.Total),
		)
		touched = append(touched, c)
	}
	return touched, nil
}

func (o *Orchestrator) transition(ctx context.Context, c *model.Campaign, to model.CampaignStatus, note string) error {
	if !CanTransition(c.Status, to) {
		return &TransitionError{From: c.Status, To: to}
	}
	if err := o.store.UpdateCampaignStatus(ctx, c.ID, to, note); err != nil {
		return err
	}
	c.Status = to
	return nil
}

func (o *Orchestrator) registerCancel(campaignID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[campaignID] = cancel
}

func (o *Orchestrator) unregisterCancel(campaignID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, campaignID)
}
