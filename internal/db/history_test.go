package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/engine"
)

func seedHistory(t *testing.T, d *DB, skuID string, periods ...int) {
	t.Helper()
	ctx := context.Background()
	for _, per := range periods {
		rec := &engine.HistoryRecord{
			SkuID:        skuID,
			PeriodYear:   2026,
			PeriodNumber: per,
			Shipped:      float64(10 * per),
		}
		rec.Recompute()
		require.NoError(t, d.CreateHistoryPeriod(ctx, rec))
	}
}

func TestHistory_CreateAndRead(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 1, 2, 3)

	rec, err := d.HistoryRecordFor(ctx, "A", 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec.Shipped)
	assert.Equal(t, 20.0, rec.TotalDemand)

	_, err = d.HistoryRecordFor(ctx, "A", 2026, 9)
	require.ErrorIs(t, err, engine.ErrNotFound)

	dup := &engine.HistoryRecord{SkuID: "A", PeriodYear: 2026, PeriodNumber: 2, Shipped: 99}
	require.ErrorIs(t, d.CreateHistoryPeriod(ctx, dup), engine.ErrAlreadyExists)

	// The refused create left the stored record alone.
	rec, err = d.HistoryRecordFor(ctx, "A", 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec.Shipped)
}

func TestHistory_UpsertOverwrites(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 1)

	rec, err := d.HistoryRecordFor(ctx, "A", 2026, 1)
	require.NoError(t, err)
	rec.LostSales = 5
	rec.OutOfStockDays = 2
	rec.Recompute()
	rec.IsAdjusted = true
	require.NoError(t, d.UpsertHistory(ctx, rec))

	got, err := d.HistoryRecordFor(ctx, "A", 2026, 1)
	require.NoError(t, err)
	assert.Equal(t, 15.0, got.TotalDemand)
	assert.Equal(t, 2, got.OutOfStockDays)
	assert.True(t, got.IsAdjusted)
}

func TestHistoryForSKU_MostRecentFirst(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 3, 1, 2)
	require.NoError(t, d.CreateHistoryPeriod(ctx, &engine.HistoryRecord{
		SkuID: "A", PeriodYear: 2025, PeriodNumber: 13, Shipped: 7, TotalDemand: 7,
	}))

	recs, err := d.HistoryForSKU(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, 3, recs[0].PeriodNumber)
	assert.Equal(t, 2, recs[1].PeriodNumber)
	assert.Equal(t, 1, recs[2].PeriodNumber)
	assert.Equal(t, 2025, recs[3].PeriodYear)

	capped, err := d.HistoryForSKU(ctx, "A", 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, 3, capped[0].PeriodNumber)
}

func TestHistoryForVendorSKUs(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SaveSKU(ctx, &engine.SKU{SkuID: "A", VendorID: "V1"}))
	require.NoError(t, d.SaveSKU(ctx, &engine.SKU{SkuID: "B", VendorID: "V1"}))
	require.NoError(t, d.SaveSKU(ctx, &engine.SKU{SkuID: "C", VendorID: "V2"}))
	seedHistory(t, d, "A", 1, 2, 3)
	seedHistory(t, d, "B", 3)
	seedHistory(t, d, "C", 3)

	hist, err := d.HistoryForVendorSKUs(ctx, "V1", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Len(t, hist["A"], 2)
	assert.Equal(t, 3, hist["A"][0].PeriodNumber)
	assert.Equal(t, 2, hist["A"][1].PeriodNumber)
	require.Len(t, hist["B"], 1)
	assert.NotContains(t, hist, "C")
}

func TestSetHistoryIgnored(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 1)

	require.NoError(t, d.SetHistoryIgnored(ctx, "A", 2026, 1, true))
	rec, err := d.HistoryRecordFor(ctx, "A", 2026, 1)
	require.NoError(t, err)
	assert.True(t, rec.IsIgnored)

	require.NoError(t, d.SetHistoryIgnored(ctx, "A", 2026, 1, false))
	rec, err = d.HistoryRecordFor(ctx, "A", 2026, 1)
	require.NoError(t, err)
	assert.False(t, rec.IsIgnored)

	require.ErrorIs(t, d.SetHistoryIgnored(ctx, "A", 2026, 9, true), engine.ErrNotFound)
}

func TestCopyHistory(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 1, 2)

	n, err := d.CopyHistory(ctx, "A", "B", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := d.HistoryRecordFor(ctx, "B", 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.Shipped)
	assert.Equal(t, 10.0, rec.TotalDemand)
	assert.True(t, rec.IsAdjusted)

	// Source is untouched.
	src, err := d.HistoryRecordFor(ctx, "A", 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, src.Shipped)
	assert.False(t, src.IsAdjusted)

	_, err = d.CopyHistory(ctx, "MISSING", "B", 1)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestPurgeHistoryBefore(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 1, 2, 3)
	require.NoError(t, d.CreateHistoryPeriod(ctx, &engine.HistoryRecord{
		SkuID: "A", PeriodYear: 2025, PeriodNumber: 12,
	}))
	seedHistory(t, d, "B", 1, 3)

	// Per-SKU purge.
	n, err := d.PurgeHistoryBefore(ctx, "A", 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := d.HistoryForSKU(ctx, "A", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// All-SKU purge.
	n, err = d.PurgeHistoryBefore(ctx, "", 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestArchiveHistoryBefore(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedHistory(t, d, "A", 1, 2, 3)
	now := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)

	n, err := d.ArchiveHistoryBefore(ctx, "A", 2026, 3, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	live, err := d.HistoryForSKU(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 3, live[0].PeriodNumber)

	var archived int
	require.NoError(t, d.sql.QueryRow(
		"SELECT COUNT(*) FROM demand_history_archive WHERE sku_id = 'A'").Scan(&archived))
	assert.Equal(t, 2, archived)

	var stamp string
	require.NoError(t, d.sql.QueryRow(
		"SELECT archived_at FROM demand_history_archive WHERE sku_id = 'A' AND period_number = 1").Scan(&stamp))
	assert.Equal(t, "2026-08-24T03:00:00Z", stamp)
}
