package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrNotFound = errors.New("not found")
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Store struct {
	DB        Querier
	DefaultTO time.Duration // default timeout per query
}

func NewStore(db Querier) *Store {
	return &Store{DB: db, DefaultTO: 5 * time.Second}
}

const selectColumns = `
SELECT id, site_name, status, frequency, cron_expr, next_run,
       site_url, organisation, display_name
FROM scraper_master`

// ListActive returns every active job in registry (id) order.
func (s *Store) ListActive(ctx context.Context) ([]JobDefinition, error) {
	return s.list(ctx, selectColumns+` WHERE status = true ORDER BY id ASC;`)
}

// List returns all jobs, inactive ones included.
func (s *Store) List(ctx context.Context) ([]JobDefinition, error) {
	return s.list(ctx, selectColumns+` ORDER BY id ASC;`)
}

func (s *Store) list(ctx context.Context, q string) ([]JobDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "query scraper_master")
	}
	defer rows.Close()

	var out []JobDefinition
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) GetBySiteKey(ctx context.Context, key string) (*JobDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()

	row := s.DB.QueryRowContext(ctx, selectColumns+` WHERE site_name = $1 ORDER BY id ASC LIMIT 1;`, key)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// SetNextRun overwrites next_run for one job. A nil t marks the job due immediately.
func (s *Store) SetNextRun(ctx context.Context, id int64, t *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()

	res, err := s.DB.ExecContext(ctx, `UPDATE scraper_master SET next_run = $1 WHERE id = $2`, t, id)
	if err != nil {
		return errors.Wrapf(err, "set next_run for job %d", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type UpsertParams struct {
	SiteKey        string
	Active         bool
	FrequencyHours float64
	CronExpr       *string
	SourceURL      string
	Organisation   string
	DisplayName    string
}

// Upsert registers a site or updates its configuration, leaving next_run alone.
func (s *Store) Upsert(ctx context.Context, p UpsertParams) (*JobDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()

	if p.SiteKey == "" {
		return nil, errors.New("site key required")
	}
	if p.FrequencyHours <= 0 && (p.CronExpr == nil || *p.CronExpr == "") {
		return nil, errors.Newf("site %s: frequency must be positive or a cron expression given", p.SiteKey)
	}

	q := `
INSERT INTO scraper_master (site_name, status, frequency, cron_expr, site_url, organisation, display_name)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (site_name) DO UPDATE SET
  status = EXCLUDED.status,
  frequency = EXCLUDED.frequency,
  cron_expr = EXCLUDED.cron_expr,
  site_url = EXCLUDED.site_url,
  organisation = EXCLUDED.organisation,
  display_name = EXCLUDED.display_name
RETURNING id, site_name, status, frequency, cron_expr, next_run, site_url, organisation, display_name;
`
	row := s.DB.QueryRowContext(ctx, q, p.SiteKey, p.Active, p.FrequencyHours, p.CronExpr,
		p.SourceURL, p.Organisation, p.DisplayName)
	j, err := scanJob(row)
	if err != nil {
		return nil, errors.Wrapf(err, "upsert site %s", p.SiteKey)
	}
	return &j, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(r scanner) (JobDefinition, error) {
	var (
		j                 JobDefinition
		url, org, display sql.NullString
	)
	if err := r.Scan(&j.ID, &j.SiteKey, &j.Active, &j.FrequencyHours, &j.CronExpr, &j.NextRun,
		&url, &org, &display); err != nil {
		return JobDefinition{}, err
	}
	j.SourceURL = url.String
	j.Organisation = org.String
	j.DisplayName = display.String
	return j, nil
}
