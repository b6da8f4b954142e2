package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/db"
	"github.com/sells-group/outreach-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	keywords         JSONB NOT NULL DEFAULT '[]',
	geography        TEXT NOT NULL,
	coverage_profile TEXT NOT NULL DEFAULT 'balanced',
	status           TEXT NOT NULL DEFAULT 'draft',
	target_count     INTEGER NOT NULL DEFAULT 0,
	estimated_cost   DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_businesses INTEGER NOT NULL DEFAULT 0,
	total_emails     INTEGER NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	error_note       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS postal_targets (
	id                   TEXT PRIMARY KEY,
	campaign_id          TEXT NOT NULL REFERENCES campaigns(id),
	postal_code          TEXT NOT NULL,
	neighborhood         TEXT NOT NULL DEFAULT '',
	density_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	relevance_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	combined_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	estimated_businesses INTEGER NOT NULL DEFAULT 0,
	max_results          INTEGER NOT NULL DEFAULT 0,
	completed            BOOLEAN NOT NULL DEFAULT false,
	businesses_found     INTEGER NOT NULL DEFAULT 0,
	emails_found         INTEGER NOT NULL DEFAULT 0,
	completed_at         TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_id, postal_code)
);

CREATE TABLE IF NOT EXISTS businesses (
	id                TEXT PRIMARY KEY,
	campaign_id       TEXT NOT NULL REFERENCES campaigns(id),
	target_id         TEXT NOT NULL DEFAULT '',
	listing_id        TEXT NOT NULL,
	name              TEXT NOT NULL,
	street            TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	postal_code       TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	email_source      TEXT NOT NULL DEFAULT 'none',
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	verified          BOOLEAN NOT NULL DEFAULT false,
	verified_safe     BOOLEAN NOT NULL DEFAULT false,
	verify_score      INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_id, listing_id)
);

CREATE TABLE IF NOT EXISTS page_enrichments (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL UNIQUE REFERENCES businesses(id),
	campaign_id TEXT NOT NULL,
	page_url    TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	succeeded   BOOLEAN NOT NULL DEFAULT false,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pronet_enrichments (
	id           TEXT PRIMARY KEY,
	business_id  TEXT NOT NULL UNIQUE REFERENCES businesses(id),
	campaign_id  TEXT NOT NULL,
	profile_url  TEXT NOT NULL DEFAULT '',
	person_name  TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	email_source TEXT NOT NULL DEFAULT 'none',
	verified     BOOLEAN NOT NULL DEFAULT false,
	safe         BOOLEAN NOT NULL DEFAULT false,
	score        INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cost_records (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	service     TEXT NOT NULL,
	items       INTEGER NOT NULL DEFAULT 0,
	amount_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS postal_demographics (
	postal_code TEXT PRIMARY KEY,
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	population  INTEGER NOT NULL DEFAULT 0,
	density     DOUBLE PRECISION NOT NULL DEFAULT 0,
	latitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude   DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_targets_campaign ON postal_targets(campaign_id);
CREATE INDEX IF NOT EXISTS idx_businesses_campaign ON businesses(campaign_id);
CREATE INDEX IF NOT EXISTS idx_businesses_email ON businesses(campaign_id, email);
CREATE INDEX IF NOT EXISTS idx_cost_records_campaign ON cost_records(campaign_id);
CREATE INDEX IF NOT EXISTS idx_demographics_city_state ON postal_demographics(city, state);
CREATE INDEX IF NOT EXISTS idx_demographics_state ON postal_demographics(state);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

// ----- campaigns -----

const pgCampaignCols = `id, name, keywords, geography, coverage_profile, status,
	target_count, estimated_cost, total_businesses, total_emails,
	started_at, completed_at, error_note, created_at, updated_at,
	(SELECT COALESCE(SUM(amount_usd), 0) FROM cost_records WHERE campaign_id = campaigns.id)`

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}

	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, keywords, geography, coverage_profile, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, keywords, c.Geography, string(c.Profile), string(c.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert campaign")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCampaignCols+` FROM campaigns WHERE id = $1`, id)
	return scanPgCampaign(row)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, f CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + pgCampaignCols + ` FROM campaigns`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanPgCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus, note string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET
			status = $1,
			error_note = CASE WHEN $2 <> '' THEN $2 ELSE error_note END,
			started_at = COALESCE(started_at, CASE WHEN $1 = 'running' THEN $3 END),
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN $3 ELSE completed_at END,
			updated_at = $3
		 WHERE id = $4`,
		string(status), note, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign status %s", id)
	}
	return checkTagAffected(tag, "campaign", id)
}

func (s *PostgresStore) UpdateCampaignSetup(ctx context.Context, id string, targetCount int, estimatedCost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET target_count = $1, estimated_cost = $2, updated_at = $3 WHERE id = $4`,
		targetCount, estimatedCost, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign setup %s", id)
	}
	return checkTagAffected(tag, "campaign", id)
}

func (s *PostgresStore) UpdateCampaignTotals(ctx context.Context, id string, businesses, emails int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET total_businesses = $1, total_emails = $2, updated_at = $3 WHERE id = $4`,
		businesses, emails, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign totals %s", id)
	}
	return checkTagAffected(tag, "campaign", id)
}

func (s *PostgresStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCampaignCols+` FROM campaigns WHERE status = 'running' AND updated_at <= $1 ORDER BY updated_at`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanPgCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list stale campaigns iterate")
}

// ----- postal targets -----

func (s *PostgresStore) InsertTargets(ctx context.Context, targets []model.PostalTarget) error {
	if len(targets) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert targets")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i := range targets {
		t := &targets[i]
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		t.CreatedAt = now
		_, err := tx.Exec(ctx,
			`INSERT INTO postal_targets
				(id, campaign_id, postal_code, neighborhood, density_score, relevance_score,
				 combined_score, estimated_businesses, max_results, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (campaign_id, postal_code) DO NOTHING`,
			t.ID, t.CampaignID, t.PostalCode, t.Neighborhood, t.DensityScore, t.RelevanceScore,
			t.CombinedScore, t.EstimatedBusinesses, t.MaxResults, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert target %s", t.PostalCode)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit insert targets")
}

func (s *PostgresStore) ListTargets(ctx context.Context, campaignID string) ([]model.PostalTarget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, campaign_id, postal_code, neighborhood, density_score, relevance_score,
			combined_score, estimated_businesses, max_results, completed,
			businesses_found, emails_found, completed_at, created_at
		 FROM postal_targets WHERE campaign_id = $1
		 ORDER BY combined_score DESC, estimated_businesses DESC, postal_code`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list targets")
	}
	defer rows.Close()

	var targets []model.PostalTarget
	for rows.Next() {
		var t model.PostalTarget
		if err := rows.Scan(
			&t.ID, &t.CampaignID, &t.PostalCode, &t.Neighborhood, &t.DensityScore, &t.RelevanceScore,
			&t.CombinedScore, &t.EstimatedBusinesses, &t.MaxResults, &t.Completed,
			&t.BusinessesFound, &t.EmailsFound, &t.CompletedAt, &t.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: list targets iterate")
}

func (s *PostgresStore) MarkTargetComplete(ctx context.Context, targetID string, businessesFound, emailsFound int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE postal_targets SET completed = true, businesses_found = $1, emails_found = $2, completed_at = $3
		 WHERE id = $4`,
		businessesFound, emailsFound, time.Now().UTC(), targetID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark target complete %s", targetID)
	}
	return checkTagAffected(tag, "target", targetID)
}

// ----- businesses -----

func (s *PostgresStore) UpsertBusinesses(ctx context.Context, businesses []model.Business) (int, error) {
	if len(businesses) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert businesses")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i := range businesses {
		b := &businesses[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		if b.EmailSource == "" {
			b.EmailSource = model.SourceNone
		}
		if b.EnrichmentStatus == "" {
			b.EnrichmentStatus = model.EnrichPending
		}
		// Descriptive listing fields refresh on conflict; an email promoted
		// by a later enrichment phase is never clobbered.
		_, err := tx.Exec(ctx,
			`INSERT INTO businesses
				(id, campaign_id, target_id, listing_id, name, street, city, state, postal_code,
				 phone, website, email, email_source, enrichment_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (campaign_id, listing_id) DO UPDATE SET
				name = excluded.name,
				street = excluded.street,
				city = excluded.city,
				state = excluded.state,
				postal_code = excluded.postal_code,
				phone = excluded.phone,
				website = excluded.website,
				email = CASE WHEN businesses.email = '' THEN excluded.email ELSE businesses.email END,
				email_source = CASE WHEN businesses.email = '' THEN excluded.email_source ELSE businesses.email_source END,
				updated_at = excluded.updated_at`,
			b.ID, b.CampaignID, b.TargetID, b.ListingID, b.Name, b.Street, b.City, b.State, b.PostalCode,
			b.Phone, b.Website, b.Email, string(b.EmailSource), string(b.EnrichmentStatus), now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert business %s", b.ListingID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert businesses")
	}
	return len(businesses), nil
}

func (s *PostgresStore) ListBusinesses(ctx context.Context, campaignID string, f BusinessFilter) ([]model.Business, error) {
	query := `SELECT id, campaign_id, target_id, listing_id, name, street, city, state, postal_code,
		phone, website, email, email_source, enrichment_status, verified, verified_safe, verify_score,
		created_at, updated_at
	 FROM businesses WHERE campaign_id = $1`
	args := []any{campaignID}

	if f.MissingEmail {
		query += ` AND email = ''`
	}
	if f.WithEmail {
		query += ` AND email <> ''`
	}
	if f.Unverified {
		query += ` AND verified = false`
	}
	if f.PageUnattempted {
		query += ` AND NOT EXISTS (SELECT 1 FROM page_enrichments pe WHERE pe.business_id = businesses.id)`
	}
	if f.AwaitingPronet {
		args = append(args, string(model.EnrichPending), string(model.EnrichInProgress))
		query += ` AND enrichment_status IN ($` + strconv.Itoa(len(args)-1) + `, $` + strconv.Itoa(len(args)) + `)`
	}
	if f.TargetID != "" {
		args = append(args, f.TargetID)
		query += ` AND target_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY name, listing_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list businesses")
	}
	defer rows.Close()

	var businesses []model.Business
	for rows.Next() {
		var b model.Business
		if err := rows.Scan(
			&b.ID, &b.CampaignID, &b.TargetID, &b.ListingID, &b.Name, &b.Street, &b.City, &b.State, &b.PostalCode,
			&b.Phone, &b.Website, &b.Email, &b.EmailSource, &b.EnrichmentStatus,
			&b.Verified, &b.VerifiedSafe, &b.VerifyScore, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan business")
		}
		businesses = append(businesses, b)
	}
	return businesses, eris.Wrap(rows.Err(), "postgres: list businesses iterate")
}

func (s *PostgresStore) UpdateBusinessEmail(ctx context.Context, id, email string, source model.EmailSource, status model.EnrichmentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET email = $1, email_source = $2, enrichment_status = $3, updated_at = $4 WHERE id = $5`,
		email, string(source), string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update business email %s", id)
	}
	return checkTagAffected(tag, "business", id)
}

func (s *PostgresStore) UpdateBusinessStatus(ctx context.Context, id string, status model.EnrichmentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET enrichment_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update business status %s", id)
	}
	return checkTagAffected(tag, "business", id)
}

func (s *PostgresStore) UpdateBusinessVerification(ctx context.Context, id string, verified, safe bool, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET verified = $1, verified_safe = $2, verify_score = $3, updated_at = $4 WHERE id = $5`,
		verified, safe, score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update business verification %s", id)
	}
	return checkTagAffected(tag, "business", id)
}

func (s *PostgresStore) CountBusinesses(ctx context.Context, campaignID string) (*BusinessCounts, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN email <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verified_safe THEN 1 ELSE 0 END), 0)
		 FROM businesses WHERE campaign_id = $1`,
		campaignID,
	)
	var c BusinessCounts
	if err := row.Scan(&c.Total, &c.WithEmail, &c.VerifiedSafe); err != nil {
		return nil, eris.Wrap(err, "postgres: count businesses")
	}
	return &c, nil
}

// ----- enrichment side records -----

func (s *PostgresStore) SavePageEnrichment(ctx context.Context, e *model.PageEnrichment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO page_enrichments (id, business_id, campaign_id, page_url, email, succeeded, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (business_id) DO UPDATE SET
			page_url = excluded.page_url,
			email = excluded.email,
			succeeded = excluded.succeeded,
			error = excluded.error`,
		e.ID, e.BusinessID, e.CampaignID, e.PageURL, e.Email, e.Succeeded, e.Error, e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save page enrichment for business %s", e.BusinessID)
}

func (s *PostgresStore) SavePronetEnrichment(ctx context.Context, e *model.PronetEnrichment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Source == "" {
		e.Source = model.SourceNone
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pronet_enrichments
			(id, business_id, campaign_id, profile_url, person_name, title, email, email_source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (business_id) DO UPDATE SET
			profile_url = excluded.profile_url,
			person_name = excluded.person_name,
			title = excluded.title,
			email = excluded.email,
			email_source = excluded.email_source`,
		e.ID, e.BusinessID, e.CampaignID, e.ProfileURL, e.PersonName, e.Title, e.Email, string(e.Source), e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save pronet enrichment for business %s", e.BusinessID)
}

func (s *PostgresStore) ListPronetEnrichments(ctx context.Context, campaignID string) ([]model.PronetEnrichment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, business_id, campaign_id, profile_url, person_name, title, email, email_source,
			verified, safe, score, created_at
		 FROM pronet_enrichments WHERE campaign_id = $1 ORDER BY created_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pronet enrichments")
	}
	defer rows.Close()

	var enrichments []model.PronetEnrichment
	for rows.Next() {
		var e model.PronetEnrichment
		if err := rows.Scan(
			&e.ID, &e.BusinessID, &e.CampaignID, &e.ProfileURL, &e.PersonName, &e.Title, &e.Email, &e.Source,
			&e.Verified, &e.Safe, &e.Score, &e.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pronet enrichment")
		}
		enrichments = append(enrichments, e)
	}
	return enrichments, eris.Wrap(rows.Err(), "postgres: list pronet enrichments iterate")
}

func (s *PostgresStore) UpdatePronetVerification(ctx context.Context, id string, verified, safe bool, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pronet_enrichments SET verified = $1, safe = $2, score = $3 WHERE id = $4`,
		verified, safe, score, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update pronet verification %s", id)
	}
	return checkTagAffected(tag, "pronet enrichment", id)
}

// ----- cost ledger -----

func (s *PostgresStore) AppendCost(ctx context.Context, rec *model.CostRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_records (id, campaign_id, service, items, amount_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.CampaignID, rec.Service, rec.Items, rec.AmountUSD, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append cost record")
}

func (s *PostgresStore) CampaignCost(ctx context.Context, campaignID string) (float64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0) FROM cost_records WHERE campaign_id = $1`,
		campaignID,
	)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, eris.Wrap(err, "postgres: campaign cost")
	}
	return total, nil
}

func (s *PostgresStore) CostByService(ctx context.Context, campaignID string) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT service, COALESCE(SUM(amount_usd), 0) FROM cost_records WHERE campaign_id = $1 GROUP BY service`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cost by service")
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var service string
		var amount float64
		if err := rows.Scan(&service, &amount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost by service")
		}
		totals[service] = amount
	}
	return totals, eris.Wrap(rows.Err(), "postgres: cost by service iterate")
}

// ----- postal demographics -----

func (s *PostgresStore) UpsertDemographics(ctx context.Context, demographics []model.Demographics) (int, error) {
	if len(demographics) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert demographics")
	}
	defer tx.Rollback(ctx)

	for _, d := range demographics {
		_, err := tx.Exec(ctx,
			`INSERT INTO postal_demographics (postal_code, city, state, population, density, latitude, longitude)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (postal_code) DO UPDATE SET
				city = excluded.city,
				state = excluded.state,
				population = excluded.population,
				density = excluded.density,
				latitude = excluded.latitude,
				longitude = excluded.longitude`,
			d.PostalCode, d.City, d.State, d.Population, d.Density, d.Latitude, d.Longitude,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert demographics %s", d.PostalCode)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert demographics")
	}
	return len(demographics), nil
}

func (s *PostgresStore) GetDemographics(ctx context.Context, postalCode string) (*model.Demographics, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT postal_code, city, state, population, density, latitude, longitude
		 FROM postal_demographics WHERE postal_code = $1`,
		postalCode,
	)
	var d model.Demographics
	err := row.Scan(&d.PostalCode, &d.City, &d.State, &d.Population, &d.Density, &d.Latitude, &d.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get demographics")
	}
	return &d, nil
}

func (s *PostgresStore) QueryDemographics(ctx context.Context, q GeoQuery) ([]model.Demographics, error) {
	query := `SELECT postal_code, city, state, population, density, latitude, longitude
		 FROM postal_demographics WHERE true`
	var args []any

	switch {
	case q.PostalCode != "":
		args = append(args, q.PostalCode)
		query += ` AND postal_code = $` + strconv.Itoa(len(args))
	case q.City != "":
		args = append(args, q.City, q.State)
		query += ` AND lower(city) = lower($` + strconv.Itoa(len(args)-1) + `) AND lower(state) = lower($` + strconv.Itoa(len(args)) + `)`
	case len(q.States) > 0:
		args = append(args, q.States)
		query += ` AND state = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if q.MinDensity > 0 {
		args = append(args, q.MinDensity)
		query += ` AND density >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY density DESC, postal_code`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query demographics")
	}
	defer rows.Close()

	var out []model.Demographics
	for rows.Next() {
		var d model.Demographics
		if err := rows.Scan(&d.PostalCode, &d.City, &d.State, &d.Population, &d.Density, &d.Latitude, &d.Longitude); err != nil {
			return nil, eris.Wrap(err, "postgres: scan demographics")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query demographics iterate")
}

// ----- helpers -----

func checkTagAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanPgCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	var keywords []byte

	err := row.Scan(
		&c.ID, &c.Name, &keywords, &c.Geography, &c.Profile, &c.Status,
		&c.TargetCount, &c.EstimatedCost, &c.TotalBusinesses, &c.TotalEmails,
		&c.StartedAt, &c.CompletedAt, &c.ErrorNote, &c.CreatedAt, &c.UpdatedAt,
		&c.ActualCost,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("campaign not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan campaign")
	}

	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &c.Keywords); err != nil {
			return nil, eris.Wrap(err, "unmarshal campaign keywords")
		}
	}
	return &c, nil
}
