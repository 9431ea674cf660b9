package vrfhub

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func staticSource(price int64, at time.Time) PriceSource {
	return PriceSourceFunc(func(context.Context) (*big.Int, time.Time, error) {
		return big.NewInt(price), at, nil
	})
}

func TestAggregatedPriceAveragesFreshEntries(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.hub.SetPriceSource(staticSource(150, now))
	require.True(t, h.hub.RefreshLocalPrice(context.Background()))

	_, err := h.hub.ReportPrice(chainA.ID, big.NewInt(100), now)
	require.NoError(t, err)
	_, err = h.hub.ReportPrice(chainB.ID, big.NewInt(200), now)
	require.NoError(t, err)

	avg, count := h.hub.AggregatedPrice()
	require.Equal(t, 3, count)
	require.Equal(t, int64(150), avg.Int64())
}

func TestAggregatedPriceEmpty(t *testing.T) {
	h := newHarness(t)
	avg, count := h.hub.AggregatedPrice()
	require.Zero(t, count)
	require.Zero(t, avg.Sign())
}

func TestAggregatedPriceTruncates(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	_, err := h.hub.ReportPrice(chainA.ID, big.NewInt(100), now)
	require.NoError(t, err)
	_, err = h.hub.ReportPrice(chainB.ID, big.NewInt(101), now)
	require.NoError(t, err)

	avg, count := h.hub.AggregatedPrice()
	require.Equal(t, 2, count)
	require.Equal(t, int64(100), avg.Int64())
}

func TestAggregatedPriceExcludesStaleEntries(t *testing.T) {
	h := newHarness(t)
	_, err := h.hub.ReportPrice(chainA.ID, big.NewInt(100), h.clock.Now())
	require.NoError(t, err)

	h.clock.Advance(DefaultStalenessWindow)
	_, err = h.hub.ReportPrice(chainB.ID, big.NewInt(300), h.clock.Now())
	require.NoError(t, err)
	avg, count := h.hub.AggregatedPrice()
	require.Equal(t, 2, count)
	require.Equal(t, int64(200), avg.Int64())

	h.clock.Advance(time.Second)
	avg, count = h.hub.AggregatedPrice()
	require.Equal(t, 1, count)
	require.Equal(t, int64(300), avg.Int64())

	prices, err := h.hub.ChainPrices()
	require.NoError(t, err)
	require.Len(t, prices, 2)
	require.False(t, prices[0].Fresh)
	require.True(t, prices[1].Fresh)
}

func TestReportPriceDropsOutOfOrderReports(t *testing.T) {
	h := newHarness(t)
	t10 := time.Unix(1_700_000_010, 0)
	t5 := time.Unix(1_700_000_005, 0)

	stored, err := h.hub.ReportPrice(chainA.ID, big.NewInt(100), t10)
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = h.hub.ReportPrice(chainA.ID, big.NewInt(999), t5)
	require.NoError(t, err)
	require.False(t, stored)
	stored, err = h.hub.ReportPrice(chainA.ID, big.NewInt(999), t10)
	require.NoError(t, err)
	require.False(t, stored)

	prices, err := h.hub.ChainPrices()
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, int64(100), prices[0].Price.Int64())
	require.Len(t, h.events.OfType(EventTypePriceStale), 2)
}

func TestReportPriceRejectsInvalidValues(t *testing.T) {
	h := newHarness(t)
	_, err := h.hub.ReportPrice(chainA.ID, big.NewInt(0), h.clock.Now())
	require.ErrorIs(t, err, ErrInvalidPrice)
	_, err = h.hub.ReportPrice(chainA.ID, big.NewInt(-5), h.clock.Now())
	require.ErrorIs(t, err, ErrInvalidPrice)
	_, err = h.hub.ReportPrice(chainA.ID, big.NewInt(5), time.Time{})
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestInboundPriceIsRecorded(t *testing.T) {
	h := newHarness(t)
	reportedAt := h.clock.Now().Add(-time.Minute)
	_, err := h.hub.Receive(context.Background(), InboundMessage{
		OriginChain: chainA.ID,
		OriginPeer:  chainA.Peer,
		Payload:     requestPayload(t, 1, 42, reportedAt),
	})
	require.NoError(t, err)

	avg, count := h.hub.AggregatedPrice()
	require.Equal(t, 1, count)
	require.Equal(t, int64(42), avg.Int64())
}

func TestRefreshLocalPriceKeepsPreviousOnFailure(t *testing.T) {
	h := newHarness(t)
	require.False(t, h.hub.RefreshLocalPrice(context.Background()))

	h.hub.SetPriceSource(staticSource(80, h.clock.Now()))
	require.True(t, h.hub.RefreshLocalPrice(context.Background()))

	h.hub.SetPriceSource(PriceSourceFunc(func(context.Context) (*big.Int, time.Time, error) {
		return nil, time.Time{}, errBoom
	}))
	require.False(t, h.hub.RefreshLocalPrice(context.Background()))
	h.hub.SetPriceSource(PriceSourceFunc(func(context.Context) (*big.Int, time.Time, error) {
		panic("feed offline")
	}))
	require.False(t, h.hub.RefreshLocalPrice(context.Background()))

	local, ok, err := h.hub.LocalPrice()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(80), local.Price.Int64())
	require.Len(t, h.events.OfType(EventTypePriceRefreshErr), 3)
}

func TestInvalidAttachedPriceIsSignalled(t *testing.T) {
	h := newHarness(t)
	payload, err := EncodeRequest(InboundRequest{Sequence: 4, Price: big.NewInt(-3), ReportedAt: h.clock.Now()})
	require.NoError(t, err)

	_, err = h.hub.Receive(context.Background(), InboundMessage{
		OriginChain: chainA.ID,
		OriginPeer:  chainA.Peer,
		Payload:     payload,
	})
	require.NoError(t, err)

	_, count := h.hub.AggregatedPrice()
	require.Zero(t, count)
	invalid := h.events.OfType(EventTypePriceInvalid)
	require.Len(t, invalid, 1)
	require.Equal(t, "30101", invalid[0].Attr("chainId"))
	require.Equal(t, "4", invalid[0].Attr("sequence"))
	require.Contains(t, invalid[0].Attr("reason"), "price must be positive")
}
