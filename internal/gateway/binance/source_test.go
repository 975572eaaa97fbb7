package binance

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		" btc/usdt ": "BTCUSDT",
		"ETH-USDT":   "ETHUSDT",
		"solusdt":    "SOLUSDT",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeSymbol(in), "input %q", in)
	}
}

func TestBuildSymbolIntervals(t *testing.T) {
	got := buildSymbolIntervals(
		[]string{"btc/usdt", "BTCUSDT", "eth-usdt", " "},
		[]string{"1H", "1h", "4h", ""},
	)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"1h", "4h"}, got["BTCUSDT"], "duplicate symbol and interval collapse")
	assert.Equal(t, []string{"1h", "4h"}, got["ETHUSDT"])
}

func TestConvertKline(t *testing.T) {
	openTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c, err := convertKline("42000.50", "42100", "41900.25", "42050", "123.9", openTime.UnixMilli())
	require.NoError(t, err)
	assert.True(t, c.Open.Equal(decimal.RequireFromString("42000.50")), "price strings survive exactly")
	assert.True(t, c.Low.Equal(decimal.RequireFromString("41900.25")))
	assert.Equal(t, int64(123), c.Volume, "volume truncates to whole units")
	assert.True(t, openTime.Equal(c.Timestamp))
	assert.Equal(t, time.UTC, c.Timestamp.Location())

	_, err = convertKline("not-a-price", "1", "1", "1", "0", 0)
	require.Error(t, err)
}

func TestConvertKlineEvent(t *testing.T) {
	ev := &futures.WsKlineEvent{
		Symbol: "btcusdt",
		Kline: futures.WsKline{
			Interval:  "1H",
			StartTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
			Open:      "100",
			High:      "110",
			Low:       "95",
			Close:     "105",
			Volume:    "10",
			IsFinal:   true,
		},
	}

	got, ok := convertKlineEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "1h", got.Interval)
	assert.True(t, got.Closed)
	assert.True(t, got.Candle.Close.Equal(decimal.NewFromInt(105)))

	_, ok = convertKlineEvent(nil)
	assert.False(t, ok)

	bad := *ev
	bad.Kline.Open = "garbage"
	_, ok = convertKlineEvent(&bad)
	assert.False(t, ok, "unparseable payloads are dropped, not surfaced")
}

func TestNextDelayDoublesAndClamps(t *testing.T) {
	assert.Equal(t, time.Second, nextDelay(0))
	assert.Equal(t, 2*time.Second, nextDelay(time.Second))
	assert.Equal(t, 30*time.Second, nextDelay(20*time.Second))
	assert.Equal(t, 30*time.Second, nextDelay(30*time.Second))
}
