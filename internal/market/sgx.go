package market

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/rishansujesh/rubber-prices/internal/prices"
)

var ErrNoSettlement = errors.New("no settlement price")

const settlementField = "preliminary-settlement-price-abs"

// ParseSettlement reads data[0]["preliminary-settlement-price-abs"] from the
// SGX feed. The field may be a JSON string or number and must be positive.
func ParseSettlement(body []byte) (decimal.Decimal, error) {
	var feed struct {
		Data []map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&feed); err != nil {
		return decimal.Decimal{}, errors.Wrapf(ErrNoSettlement, "decode feed: %v", err)
	}
	if len(feed.Data) == 0 {
		return decimal.Decimal{}, errors.Wrap(ErrNoSettlement, "empty data")
	}

	var raw string
	switch v := feed.Data[0][settlementField].(type) {
	case string:
		raw = v
	case json.Number:
		raw = v.String()
	default:
		return decimal.Decimal{}, errors.Wrapf(ErrNoSettlement, "%s is %T", settlementField, v)
	}
	price, ok := prices.ParseAmount(raw)
	if !ok {
		return decimal.Decimal{}, errors.Wrapf(ErrNoSettlement, "%s=%q", settlementField, raw)
	}
	return price, nil
}
