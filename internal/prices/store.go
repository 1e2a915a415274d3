package prices

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// TxBeginner is satisfied by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type Store struct {
	DB        TxBeginner
	DefaultTO time.Duration
}

func NewStore(db TxBeginner) *Store {
	return &Store{DB: db, DefaultTO: 15 * time.Second}
}

const upsertSQL = `
INSERT INTO rubber_prices (
  record_key, date, material, material_category, price, currency,
  market_type, market, conversion_rate, organisation, master_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (record_key) DO UPDATE SET
  price = EXCLUDED.price,
  conversion_rate = EXCLUDED.conversion_rate,
  organisation = EXCLUDED.organisation,
  material_category = EXCLUDED.material_category,
  market_type = EXCLUDED.market_type,
  updated_at = now()
WHERE (rubber_prices.price, rubber_prices.conversion_rate, rubber_prices.organisation,
       rubber_prices.material_category, rubber_prices.market_type)
  IS DISTINCT FROM
      (EXCLUDED.price, EXCLUDED.conversion_rate, EXCLUDED.organisation,
       EXCLUDED.material_category, EXCLUDED.market_type);
`

// Save writes the batch in one transaction and returns the number of rows
// inserted or changed. Replaying a batch that is already stored returns 0.
func (s *Store) Save(ctx context.Context, recs []Record) (int, error) {
	recs = Dedupe(recs)
	if len(recs) == 0 {
		return 0, nil
	}
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin price batch")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, errors.Wrap(err, "prepare price upsert")
	}
	defer stmt.Close()

	var total int64
	for _, r := range recs {
		res, err := stmt.ExecContext(ctx,
			r.Key(), r.Date.Format(dateLayout), string(r.Material), r.MaterialCategory, r.Price,
			string(r.Currency), string(r.MarketType), r.Market, r.ConversionRate,
			r.Organisation, r.MasterID)
		if err != nil {
			return 0, errors.Wrapf(err, "upsert %s/%s/%s", r.Market, r.Material, r.Currency)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit price batch")
	}
	return int(total), nil
}
