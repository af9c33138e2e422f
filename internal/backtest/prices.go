package backtest

import (
	"fmt"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/lookup"
	"portfolio-replay-lab/internal/portfolio"
)

// candlePrices answers engine price queries from candles materialized
// before replay begins. It never touches storage during the run.
type candlePrices struct {
	byContract map[string][]*domain.Candle
}

var _ portfolio.PriceSource = (*candlePrices)(nil)

func newCandlePrices() *candlePrices {
	return &candlePrices{byContract: make(map[string][]*domain.Candle)}
}

func (p *candlePrices) add(contract string, candles []*domain.Candle) {
	p.byContract[contract] = candles
}

// PriceAt returns the prevailing raw market price of a contract at ts.
func (p *candlePrices) PriceAt(contract string, ts int64) (float64, error) {
	candles, ok := p.byContract[contract]
	if !ok {
		return 0, fmt.Errorf("no candles materialized for contract %s", contract)
	}
	price, err := lookup.PriceAt(ts, candles)
	if err != nil {
		return 0, fmt.Errorf("price lookup for %s at %d: %w", contract, ts, err)
	}
	return price, nil
}
