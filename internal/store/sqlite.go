package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	keywords         TEXT NOT NULL DEFAULT '[]',
	geography        TEXT NOT NULL,
	coverage_profile TEXT NOT NULL DEFAULT 'balanced',
	status           TEXT NOT NULL DEFAULT 'draft',
	target_count     INTEGER NOT NULL DEFAULT 0,
	estimated_cost   REAL NOT NULL DEFAULT 0,
	total_businesses INTEGER NOT NULL DEFAULT 0,
	total_emails     INTEGER NOT NULL DEFAULT 0,
	started_at       DATETIME,
	completed_at     DATETIME,
	error_note       TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS postal_targets (
	id                   TEXT PRIMARY KEY,
	campaign_id          TEXT NOT NULL REFERENCES campaigns(id),
	postal_code          TEXT NOT NULL,
	neighborhood         TEXT NOT NULL DEFAULT '',
	density_score        REAL NOT NULL DEFAULT 0,
	relevance_score      REAL NOT NULL DEFAULT 0,
	combined_score       REAL NOT NULL DEFAULT 0,
	estimated_businesses INTEGER NOT NULL DEFAULT 0,
	max_results          INTEGER NOT NULL DEFAULT 0,
	completed            INTEGER NOT NULL DEFAULT 0,
	businesses_found     INTEGER NOT NULL DEFAULT 0,
	emails_found         INTEGER NOT NULL DEFAULT 0,
	completed_at         DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
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
	verified          INTEGER NOT NULL DEFAULT 0,
	verified_safe     INTEGER NOT NULL DEFAULT 0,
	verify_score      INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (campaign_id, listing_id)
);

CREATE TABLE IF NOT EXISTS page_enrichments (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL UNIQUE REFERENCES businesses(id),
	campaign_id TEXT NOT NULL,
	page_url    TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	succeeded   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
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
	verified     INTEGER NOT NULL DEFAULT 0,
	safe         INTEGER NOT NULL DEFAULT 0,
	score        INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cost_records (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	service     TEXT NOT NULL,
	items       INTEGER NOT NULL DEFAULT 0,
	amount_usd  REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS postal_demographics (
	postal_code TEXT PRIMARY KEY,
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	population  INTEGER NOT NULL DEFAULT 0,
	density     REAL NOT NULL DEFAULT 0,
	latitude    REAL NOT NULL DEFAULT 0,
	longitude   REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_targets_campaign ON postal_targets(campaign_id);
CREATE INDEX IF NOT EXISTS idx_businesses_campaign ON businesses(campaign_id);
CREATE INDEX IF NOT EXISTS idx_businesses_email ON businesses(campaign_id, email);
CREATE INDEX IF NOT EXISTS idx_cost_records_campaign ON cost_records(campaign_id);
CREATE INDEX IF NOT EXISTS idx_demographics_city_state ON postal_demographics(city, state);
CREATE INDEX IF NOT EXISTS idx_demographics_state ON postal_demographics(state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ----- campaigns -----

const sqliteCampaignCols = `id, name, keywords, geography, coverage_profile, status,
	target_count, estimated_cost, total_businesses, total_emails,
	started_at, completed_at, error_note, created_at, updated_at,
	(SELECT COALESCE(SUM(amount_usd), 0) FROM cost_records WHERE campaign_id = campaigns.id)`

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
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
		return eris.Wrap(err, "sqlite: marshal keywords")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, keywords, geography, coverage_profile, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(keywords), c.Geography, string(c.Profile), string(c.Status), now, now,
	)
	return eris.Wrap(err, "sqlite: insert campaign")
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCampaignCols+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context, f CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + sqliteCampaignCols + ` FROM campaigns WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus, note string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET
			status = ?,
			error_note = CASE WHEN ? <> '' THEN ? ELSE error_note END,
			started_at = COALESCE(started_at, CASE WHEN ? = 'running' THEN ? END),
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE completed_at END,
			updated_at = ?
		 WHERE id = ?`,
		string(status), note, note, string(status), now, string(status), now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign status %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

func (s *SQLiteStore) UpdateCampaignSetup(ctx context.Context, id string, targetCount int, estimatedCost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET target_count = ?, estimated_cost = ?, updated_at = ? WHERE id = ?`,
		targetCount, estimatedCost, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign setup %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

func (s *SQLiteStore) UpdateCampaignTotals(ctx context.Context, id string, businesses, emails int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET total_businesses = ?, total_emails = ?, updated_at = ? WHERE id = ?`,
		businesses, emails, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign totals %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

func (s *SQLiteStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCampaignCols+` FROM campaigns WHERE status = 'running' AND updated_at <= ? ORDER BY updated_at`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: list stale campaigns iterate")
}

// ----- postal targets -----

func (s *SQLiteStore) InsertTargets(ctx context.Context, targets []model.PostalTarget) error {
	if len(targets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert targets")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range targets {
		t := &targets[i]
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		t.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO postal_targets
				(id, campaign_id, postal_code, neighborhood, density_score, relevance_score,
				 combined_score, estimated_businesses, max_results, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (campaign_id, postal_code) DO NOTHING`,
			t.ID, t.CampaignID, t.PostalCode, t.Neighborhood, t.DensityScore, t.RelevanceScore,
			t.CombinedScore, t.EstimatedBusinesses, t.MaxResults, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert target %s", t.PostalCode)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert targets")
}

func (s *SQLiteStore) ListTargets(ctx context.Context, campaignID string) ([]model.PostalTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, postal_code, neighborhood, density_score, relevance_score,
			combined_score, estimated_businesses, max_results, completed,
			businesses_found, emails_found, completed_at, created_at
		 FROM postal_targets WHERE campaign_id = ?
		 ORDER BY combined_score DESC, estimated_businesses DESC, postal_code`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list targets")
	}
	defer rows.Close()

	var targets []model.PostalTarget
	for rows.Next() {
		var t model.PostalTarget
		var completedAt sql.NullTime
		if err := rows.Scan(
			&t.ID, &t.CampaignID, &t.PostalCode, &t.Neighborhood, &t.DensityScore, &t.RelevanceScore,
			&t.CombinedScore, &t.EstimatedBusinesses, &t.MaxResults, &t.Completed,
			&t.BusinessesFound, &t.EmailsFound, &completedAt, &t.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target")
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: list targets iterate")
}

func (s *SQLiteStore) MarkTargetComplete(ctx context.Context, targetID string, businessesFound, emailsFound int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE postal_targets SET completed = 1, businesses_found = ?, emails_found = ?, completed_at = ?
		 WHERE id = ?`,
		businessesFound, emailsFound, time.Now().UTC(), targetID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark target complete %s", targetID)
	}
	return checkRowsAffected(res, "target", targetID)
}

// ----- businesses -----

func (s *SQLiteStore) UpsertBusinesses(ctx context.Context, businesses []model.Business) (int, error) {
	if len(businesses) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert businesses")
	}
	defer tx.Rollback()

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
		// On conflict the listing's descriptive fields refresh, but an email
		// promoted by a later enrichment phase is never clobbered.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO businesses
				(id, campaign_id, target_id, listing_id, name, street, city, state, postal_code,
				 phone, website, email, email_source, enrichment_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (campaign_id, listing_id) DO UPDATE SET
				name = excluded.name,
				street = excluded.street,
				city = excluded.city,
				state = excluded.state,
				postal_code = excluded.postal_code,
				phone = excluded.phone,
				website = excluded.website,
				email = CASE WHEN email = '' THEN excluded.email ELSE email END,
				email_source = CASE WHEN email = '' THEN excluded.email_source ELSE email_source END,
				updated_at = excluded.updated_at`,
			b.ID, b.CampaignID, b.TargetID, b.ListingID, b.Name, b.Street, b.City, b.State, b.PostalCode,
			b.Phone, b.Website, b.Email, string(b.EmailSource), string(b.EnrichmentStatus), now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert business %s", b.ListingID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert businesses")
	}
	return len(businesses), nil
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context, campaignID string, f BusinessFilter) ([]model.Business, error) {
	query := `SELECT id, campaign_id, target_id, listing_id, name, street, city, state, postal_code,
		phone, website, email, email_source, enrichment_status, verified, verified_safe, verify_score,
		created_at, updated_at
	 FROM businesses WHERE campaign_id = ?`
	args := []any{campaignID}

	if f.MissingEmail {
		query += ` AND email = ''`
	}
	if f.WithEmail {
		query += ` AND email <> ''`
	}
	if f.Unverified {
		query += ` AND verified = 0`
	}
	if f.PageUnattempted {
		query += ` AND NOT EXISTS (SELECT 1 FROM page_enrichments pe WHERE pe.business_id = businesses.id)`
	}
	if f.AwaitingPronet {
		query += ` AND enrichment_status IN (?, ?)`
		args = append(args, string(model.EnrichPending), string(model.EnrichInProgress))
	}
	if f.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, f.TargetID)
	}
	query += ` ORDER BY name, listing_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list businesses")
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
			return nil, eris.Wrap(err, "sqlite: scan business")
		}
		businesses = append(businesses, b)
	}
	return businesses, eris.Wrap(rows.Err(), "sqlite: list businesses iterate")
}

func (s *SQLiteStore) UpdateBusinessEmail(ctx context.Context, id, email string, source model.EmailSource, status model.EnrichmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET email = ?, email_source = ?, enrichment_status = ?, updated_at = ? WHERE id = ?`,
		email, string(source), string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update business email %s", id)
	}
	return checkRowsAffected(res, "business", id)
}

func (s *SQLiteStore) UpdateBusinessStatus(ctx context.Context, id string, status model.EnrichmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET enrichment_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update business status %s", id)
	}
	return checkRowsAffected(res, "business", id)
}

func (s *SQLiteStore) UpdateBusinessVerification(ctx context.Context, id string, verified, safe bool, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET verified = ?, verified_safe = ?, verify_score = ?, updated_at = ? WHERE id = ?`,
		verified, safe, score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update business verification %s", id)
	}
	return checkRowsAffected(res, "business", id)
}

func (s *SQLiteStore) CountBusinesses(ctx context.Context, campaignID string) (*BusinessCounts, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN email <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verified_safe = 1 THEN 1 ELSE 0 END), 0)
		 FROM businesses WHERE campaign_id = ?`,
		campaignID,
	)
	var c BusinessCounts
	if err := row.Scan(&c.Total, &c.WithEmail, &c.VerifiedSafe); err != nil {
		return nil, eris.Wrap(err, "sqlite: count businesses")
	}
	return &c, nil
}

// ----- enrichment side records -----

func (s *SQLiteStore) SavePageEnrichment(ctx context.Context, e *model.PageEnrichment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO page_enrichments (id, business_id, campaign_id, page_url, email, succeeded, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id) DO UPDATE SET
			page_url = excluded.page_url,
			email = excluded.email,
			succeeded = excluded.succeeded,
			error = excluded.error`,
		e.ID, e.BusinessID, e.CampaignID, e.PageURL, e.Email, e.Succeeded, e.Error, e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save page enrichment for business %s", e.BusinessID)
}

func (s *SQLiteStore) SavePronetEnrichment(ctx context.Context, e *model.PronetEnrichment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Source == "" {
		e.Source = model.SourceNone
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pronet_enrichments
			(id, business_id, campaign_id, profile_url, person_name, title, email, email_source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id) DO UPDATE SET
			profile_url = excluded.profile_url,
			person_name = excluded.person_name,
			title = excluded.title,
			email = excluded.email,
			email_source = excluded.email_source`,
		e.ID, e.BusinessID, e.CampaignID, e.ProfileURL, e.PersonName, e.Title, e.Email, string(e.Source), e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save pronet enrichment for business %s", e.BusinessID)
}

func (s *SQLiteStore) ListPronetEnrichments(ctx context.Context, campaignID string) ([]model.PronetEnrichment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, business_id, campaign_id, profile_url, person_name, title, email, email_source,
			verified, safe, score, created_at
		 FROM pronet_enrichments WHERE campaign_id = ? ORDER BY created_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pronet enrichments")
	}
	defer rows.Close()

	var enrichments []model.PronetEnrichment
	for rows.Next() {
		var e model.PronetEnrichment
		if err := rows.Scan(
			&e.ID, &e.BusinessID, &e.CampaignID, &e.ProfileURL, &e.PersonName, &e.Title, &e.Email, &e.Source,
			&e.Verified, &e.Safe, &e.Score, &e.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pronet enrichment")
		}
		enrichments = append(enrichments, e)
	}
	return enrichments, eris.Wrap(rows.Err(), "sqlite: list pronet enrichments iterate")
}

func (s *SQLiteStore) UpdatePronetVerification(ctx context.Context, id string, verified, safe bool, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pronet_enrichments SET verified = ?, safe = ?, score = ? WHERE id = ?`,
		verified, safe, score, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pronet verification %s", id)
	}
	return checkRowsAffected(res, "pronet enrichment", id)
}

// ----- cost ledger -----

func (s *SQLiteStore) AppendCost(ctx context.Context, rec *model.CostRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_records (id, campaign_id, service, items, amount_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CampaignID, rec.Service, rec.Items, rec.AmountUSD, rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append cost record")
}

func (s *SQLiteStore) CampaignCost(ctx context.Context, campaignID string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0) FROM cost_records WHERE campaign_id = ?`,
		campaignID,
	)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, eris.Wrap(err, "sqlite: campaign cost")
	}
	return total, nil
}

func (s *SQLiteStore) CostByService(ctx context.Context, campaignID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, COALESCE(SUM(amount_usd), 0) FROM cost_records WHERE campaign_id = ? GROUP BY service`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cost by service")
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var service string
		var amount float64
		if err := rows.Scan(&service, &amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost by service")
		}
		totals[service] = amount
	}
	return totals, eris.Wrap(rows.Err(), "sqlite: cost by service iterate")
}

// ----- postal demographics -----

func (s *SQLiteStore) UpsertDemographics(ctx context.Context, demographics []model.Demographics) (int, error) {
	if len(demographics) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert demographics")
	}
	defer tx.Rollback()

	for _, d := range demographics {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO postal_demographics (postal_code, city, state, population, density, latitude, longitude)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
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
			return 0, eris.Wrapf(err, "sqlite: upsert demographics %s", d.PostalCode)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert demographics")
	}
	return len(demographics), nil
}

func (s *SQLiteStore) GetDemographics(ctx context.Context, postalCode string) (*model.Demographics, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT postal_code, city, state, population, density, latitude, longitude
		 FROM postal_demographics WHERE postal_code = ?`,
		postalCode,
	)
	var d model.Demographics
	err := row.Scan(&d.PostalCode, &d.City, &d.State, &d.Population, &d.Density, &d.Latitude, &d.Longitude)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get demographics")
	}
	return &d, nil
}

func (s *SQLiteStore) QueryDemographics(ctx context.Context, q GeoQuery) ([]model.Demographics, error) {
	query := `SELECT postal_code, city, state, population, density, latitude, longitude
		 FROM postal_demographics WHERE 1=1`
	var args []any

	switch {
	case q.PostalCode != "":
		query += ` AND postal_code = ?`
		args = append(args, q.PostalCode)
	case q.City != "":
		query += ` AND city = ? COLLATE NOCASE AND state = ? COLLATE NOCASE`
		args = append(args, q.City, q.State)
	case len(q.States) > 0:
		query += ` AND state IN (?` + repeatPlaceholder(len(q.States)-1) + `)`
		for _, st := range q.States {
			args = append(args, st)
		}
	}
	if q.MinDensity > 0 {
		query += ` AND density >= ?`
		args = append(args, q.MinDensity)
	}
	query += ` ORDER BY density DESC, postal_code`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query demographics")
	}
	defer rows.Close()

	var out []model.Demographics
	for rows.Next() {
		var d model.Demographics
		if err := rows.Scan(&d.PostalCode, &d.City, &d.State, &d.Population, &d.Density, &d.Latitude, &d.Longitude); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan demographics")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query demographics iterate")
}

// ----- helpers -----

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var keywords string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.Name, &keywords, &c.Geography, &c.Profile, &c.Status,
		&c.TargetCount, &c.EstimatedCost, &c.TotalBusinesses, &c.TotalEmails,
		&startedAt, &completedAt, &c.ErrorNote, &c.CreatedAt, &c.UpdatedAt,
		&c.ActualCost,
	)
	if err == sql.ErrNoRows {
		return nil, eris.New("campaign not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan campaign")
	}

	if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
		return nil, eris.Wrap(err, "unmarshal campaign keywords")
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}
