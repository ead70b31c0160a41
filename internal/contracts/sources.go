package contracts

import "context"

// TickerInfo is the metadata a price source knows about a symbol.
type TickerInfo struct {
	Symbol   string
	Name     string
	Sector   string
	Industry string
}

// PriceSource provides market data from an external provider.
// History returns raw daily bars in ascending date order; daily
// returns are computed by the caller so they can be bridged across
// the cache boundary.
type PriceSource interface {
	History(ctx context.Context, symbol, from, to string) ([]*PriceBar, error)
	Info(ctx context.Context, symbol string) (*TickerInfo, error)
}
