package market

import "context"

// CandleEvent is one candle update from a feed. Closed reports whether the
// bucket is final; the engines only act on closed candles.
type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
	Closed   bool
}

// SubscribeOptions tunes a feed subscription.
type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

// SourceStats counts feed health for diagnostics.
type SourceStats struct {
	Reconnects      int64
	SubscribeErrors int64
	LastError       string
}

// Source is a candle feed: historical backfill plus a live stream.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Subscribe(ctx context.Context, symbols, intervals []string, opts SubscribeOptions) (<-chan CandleEvent, error)
	Close() error
}
