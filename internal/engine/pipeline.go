package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stockcast/internal/config"
	"stockcast/internal/period"
)

// Pipeline stage names, the keys of a run's stage stats.
const (
	StageHostSync        = "host_sync"
	StageLostSales       = "lost_sales"
	StageStockPoints     = "stock_points"
	StageParameterEvents = "parameter_events"
	StageDealExpiry      = "deal_expiry"
	StageLeadTimes       = "lead_times"
	StageOrderBuild      = "order_build"
	StageOrderPurge      = "order_purge"
	StageReforecast      = "reforecast"
	StageExceptions      = "exceptions"
	StageExcArchive      = "exception_archive"
)

// Run kinds.
const (
	RunNightly   = "nightly"
	RunPeriodEnd = "period_end"
)

// Store is the persistence surface the pipelines drive. *db.DB
// implements it. Batch methods exist so a vendor partition costs a
// constant number of queries.
type Store interface {
	Settings(ctx context.Context) (*config.Settings, error)

	Vendors(ctx context.Context, warehouseID string) ([]*Vendor, error)
	SaveVendor(ctx context.Context, v *Vendor) error
	SKUsForVendor(ctx context.Context, vendorID string) ([]*SKU, error)
	SaveSKU(ctx context.Context, s *SKU) error
	BracketsForVendor(ctx context.Context, vendorID string) ([]Bracket, error)
	Profiles(ctx context.Context) (map[string]*Profile, error)

	HistoryRecordFor(ctx context.Context, skuID string, year, per int) (*HistoryRecord, error)
	HistoryForVendorSKUs(ctx context.Context, vendorID string, limit int) (map[string][]HistoryRecord, error)
	UpsertHistory(ctx context.Context, rec *HistoryRecord) error

	LeadTimeObservations(ctx context.Context, vendorID string, since time.Time) ([]LeadTimeObservation, error)

	SaveOrder(ctx context.Context, o *Order) error
	PurgeAcceptedOrders(ctx context.Context, cutoff time.Time) (int, error)

	UnresolvedExceptionTypes(ctx context.Context, skuID string, year, per int) (map[ExceptionType]bool, error)
	SaveExceptions(ctx context.Context, excs []Exception) error
	ArchiveResolvedExceptions(ctx context.Context, cutoff time.Time) (int, error)

	SaveRun(ctx context.Context, r *Run) error
}

// Host integrates the pipelines with the owning host system: stock
// status sync, time-based parameter events and deal expiry all live
// outside this engine. NopHost ignores everything.
type Host interface {
	SyncStockStatus(ctx context.Context, warehouseID string) error
	ProcessParameterEvents(ctx context.Context, now time.Time) error
	ExpireDeals(ctx context.Context, now time.Time) error
}

// NopHost is the default Host.
type NopHost struct{}

func (NopHost) SyncStockStatus(context.Context, string) error           { return nil }
func (NopHost) ProcessParameterEvents(context.Context, time.Time) error { return nil }
func (NopHost) ExpireDeals(context.Context, time.Time) error            { return nil }

// Pipeline sequences the nightly and period-end runs. Stages run in
// order; inside a stage, vendor partitions run in parallel and each
// partition's SKUs sequentially, so no SKU is touched twice at once.
type Pipeline struct {
	store Store
	host  Host

	// Progress receives human-readable stage updates; nil is silent.
	Progress func(msg string)
}

// NewPipeline wires a pipeline. A nil host defaults to NopHost.
func NewPipeline(store Store, host Host) *Pipeline {
	if host == nil {
		host = NopHost{}
	}
	return &Pipeline{store: store, host: host}
}

func (p *Pipeline) progress(format string, args ...any) {
	if p.Progress != nil {
		p.Progress(fmt.Sprintf(format, args...))
	}
}

// Nightly runs the nightly maintenance sequence: host stock sync,
// lost-sales backfill, stock points, host parameter events, deal
// expiry, the weekly lead-time refresh, vendor order builds and the
// accepted-order purge. Per-unit failures are counted and skipped; the
// returned error covers run-level failures and the first fatal unit
// failure, which aborts the run. The run row persists either way, with
// settings cached once at the start.
func (p *Pipeline) Nightly(ctx context.Context, warehouseID string, now time.Time) (*Run, error) {
	cfg, err := p.store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout(cfg))
	defer cancel()

	run := newRun(RunNightly, warehouseID, now)
	col := newStatsCollector()
	err = p.runNightly(ctx, cfg, col, warehouseID, now)
	p.finish(run, col, err)
	return run, err
}

func (p *Pipeline) runNightly(ctx context.Context, cfg *config.Settings, col *statsCollector, warehouseID string, now time.Time) error {
	p.progress("syncing stock status from host")
	col.record(StageHostSync, p.host.SyncStockStatus(ctx, warehouseID))

	vendors, err := p.store.Vendors(ctx, warehouseID)
	if err != nil {
		return fmt.Errorf("list vendors: %w", err)
	}
	profiles, err := p.store.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	p.progress("running sku maintenance for %d vendors", len(vendors))
	err = p.eachVendor(ctx, cfg, vendors, func(ctx context.Context, v *Vendor) error {
		return p.maintainVendorSKUs(ctx, cfg, col, profiles, v, now)
	})
	if err != nil {
		return err
	}

	col.record(StageParameterEvents, p.host.ProcessParameterEvents(ctx, now))
	col.record(StageDealExpiry, p.host.ExpireDeals(ctx, now))

	if int(now.Weekday()) == cfg.LeadTimeUpdateWeekday {
		p.progress("weekly lead-time refresh")
		err = p.eachVendor(ctx, cfg, vendors, func(ctx context.Context, v *Vendor) error {
			p.refreshVendorLeadTime(ctx, cfg, col, v, now)
			if err := col.fatalErr(); err != nil {
				return err
			}
			return ctx.Err()
		})
		if err != nil {
			return err
		}
	}

	p.progress("building vendor orders")
	err = p.eachVendor(ctx, cfg, vendors, func(ctx context.Context, v *Vendor) error {
		p.buildVendorOrder(ctx, cfg, col, v, now)
		if err := col.fatalErr(); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	n, err := p.store.PurgeAcceptedOrders(ctx, now.AddDate(0, 0, -cfg.OrderPurgeDays))
	col.bulk(StageOrderPurge, n, err)
	return ctx.Err()
}

// PeriodEnd closes the forecasting period: reforecast, exception scan,
// exception archive. Unless forced it runs only on the period's last
// day and returns (nil, nil) when the calendar says no.
func (p *Pipeline) PeriodEnd(ctx context.Context, warehouseID string, now time.Time, force bool) (*Run, error) {
	cfg, err := p.store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !force && !period.IsLastDay(now, cfg.PeriodicityDefault) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout(cfg))
	defer cancel()

	run := newRun(RunPeriodEnd, warehouseID, now)
	col := newStatsCollector()
	err = p.runPeriodEnd(ctx, cfg, col, warehouseID, now)
	p.finish(run, col, err)
	return run, err
}

func (p *Pipeline) runPeriodEnd(ctx context.Context, cfg *config.Settings, col *statsCollector, warehouseID string, now time.Time) error {
	vendors, err := p.store.Vendors(ctx, warehouseID)
	if err != nil {
		return fmt.Errorf("list vendors: %w", err)
	}
	profiles, err := p.store.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	p.progress("closing the period for %d vendors", len(vendors))
	err = p.eachVendor(ctx, cfg, vendors, func(ctx context.Context, v *Vendor) error {
		return p.closeVendorPeriod(ctx, cfg, col, profiles, v, now)
	})
	if err != nil {
		return err
	}

	n, err := p.store.ArchiveResolvedExceptions(ctx, now.AddDate(0, 0, -cfg.KeepArchivedExceptionsDays))
	col.bulk(StageExcArchive, n, err)
	return ctx.Err()
}

// eachVendor fans vendor partitions out over the worker pool. Worker
// callbacks return only context errors; domain failures are recorded
// into the stats and swallowed.
func (p *Pipeline) eachVendor(ctx context.Context, cfg *config.Settings, vendors []*Vendor, fn func(context.Context, *Vendor) error) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, v := range vendors {
		v := v
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, v)
		})
	}
	return g.Wait()
}

// maintainVendorSKUs is one vendor's nightly SKU pass: lost-sales
// backfill, then stock points.
func (p *Pipeline) maintainVendorSKUs(ctx context.Context, cfg *config.Settings, col *statsCollector, profiles map[string]*Profile, v *Vendor, now time.Time) error {
	skus, err := p.store.SKUsForVendor(ctx, v.VendorID)
	if err != nil {
		col.record(StageLostSales, err)
		col.record(StageStockPoints, err)
		return nil
	}
	for _, s := range skus {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.backfillSKU(ctx, col, profiles[s.ProfileID], s, now)
		p.stockPointsSKU(ctx, cfg, col, profiles, v, s, now)
		if err := col.fatalErr(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) backfillSKU(ctx context.Context, col *statsCollector, prof *Profile, s *SKU, now time.Time) {
	if s.OutOfStockDays <= 0 {
		return
	}
	year, per, err := period.Current(now, s.Periodicity)
	if err != nil {
		col.record(StageLostSales, fmt.Errorf("%w: sku %s: %v", ErrValidation, s.SkuID, err))
		return
	}
	rec, err := p.store.HistoryRecordFor(ctx, s.SkuID, year, per)
	if errors.Is(err, ErrNotFound) {
		rec = &HistoryRecord{SkuID: s.SkuID, PeriodYear: year, PeriodNumber: per}
		err = nil
	}
	if err != nil {
		col.record(StageLostSales, err)
		return
	}
	if !BackfillLostSales(s, rec, prof) {
		return
	}
	col.record(StageLostSales, p.store.UpsertHistory(ctx, rec))
}

func (p *Pipeline) stockPointsSKU(ctx context.Context, cfg *config.Settings, col *statsCollector, profiles map[string]*Profile, v *Vendor, s *SKU, now time.Time) {
	if s.BuyerClass != BuyerRegular && s.BuyerClass != BuyerWatch {
		return
	}
	_, per, err := period.Current(now, s.Periodicity)
	if err != nil {
		col.record(StageStockPoints, fmt.Errorf("%w: sku %s: %v", ErrValidation, s.SkuID, err))
		return
	}
	err = ComputeStockPoints(StockPointsInput{
		SKU:          s,
		Vendor:       v,
		Profile:      profiles[s.ProfileID],
		PeriodNumber: per,

		DefaultServiceLevel:   cfg.DefaultServiceLevel,
		DefaultLeadTimeDays:   cfg.DefaultLeadTime,
		DefaultLeadTimeVarPct: cfg.DefaultLeadTimeVariance,
	})
	if err == nil {
		EmpiricalAdjust(s, cfg.ServiceLevelMaxAdjust)
		err = p.store.SaveSKU(ctx, s)
	}
	col.record(StageStockPoints, err)
}

// refreshVendorLeadTime recomputes a vendor's lead-time forecast from
// the last year of receipts and propagates it to SKUs without enough
// of their own. Vendors without usable receipts keep their current
// forecast and are not counted.
func (p *Pipeline) refreshVendorLeadTime(ctx context.Context, cfg *config.Settings, col *statsCollector, v *Vendor, now time.Time) {
	obs, err := p.store.LeadTimeObservations(ctx, v.VendorID, now.AddDate(-1, 0, 0))
	if err != nil {
		col.record(StageLeadTimes, err)
		return
	}
	fc, err := ForecastLeadTime(obs, cfg.TrendApplication)
	if errors.Is(err, ErrValidation) {
		return
	}
	if err != nil {
		col.record(StageLeadTimes, err)
		return
	}
	ApplyVendorLeadTime(v, fc)

	skus, err := p.store.SKUsForVendor(ctx, v.VendorID)
	if err == nil {
		PropagateLeadTime(v, skus)
		err = p.store.SaveVendor(ctx, v)
		for _, s := range skus {
			if err != nil {
				break
			}
			if s.OwnLeadTimeCount >= minOwnObservations {
				continue
			}
			err = p.store.SaveSKU(ctx, s)
		}
	}
	col.record(StageLeadTimes, err)
}

func (p *Pipeline) buildVendorOrder(ctx context.Context, cfg *config.Settings, col *statsCollector, v *Vendor, now time.Time) {
	skus, err := p.store.SKUsForVendor(ctx, v.VendorID)
	if err != nil {
		col.record(StageOrderBuild, err)
		return
	}
	brackets, err := p.store.BracketsForVendor(ctx, v.VendorID)
	if err != nil {
		col.record(StageOrderBuild, err)
		return
	}
	order, err := BuildOrder(OrderBuildInput{
		Vendor:          v,
		SKUs:            skus,
		Brackets:        brackets,
		Now:             now,
		OpPrimeLimit:    cfg.OpPrimeLimit,
		AtRiskThreshold: cfg.OrderAtRiskThreshold,
	})
	if err == nil && order != nil {
		err = p.store.SaveOrder(ctx, order)
	}
	col.record(StageOrderBuild, err)
}

// closeVendorPeriod is one vendor's period-end pass. History for the
// whole partition loads in one batch.
func (p *Pipeline) closeVendorPeriod(ctx context.Context, cfg *config.Settings, col *statsCollector, profiles map[string]*Profile, v *Vendor, now time.Time) error {
	skus, err := p.store.SKUsForVendor(ctx, v.VendorID)
	if err != nil {
		col.record(StageReforecast, err)
		return nil
	}
	histories, err := p.store.HistoryForVendorSKUs(ctx, v.VendorID, cfg.HistoryPeriodsToKeep)
	if err != nil {
		col.record(StageReforecast, err)
		return nil
	}
	peer := peerMeanForecast(skus)
	for _, s := range skus {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.closeSKUPeriod(ctx, cfg, col, profiles, s, histories[s.SkuID], peer, now)
		if err := col.fatalErr(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) closeSKUPeriod(ctx context.Context, cfg *config.Settings, col *statsCollector, profiles map[string]*Profile, s *SKU, history []HistoryRecord, peerMean float64, now time.Time) {
	prof := profiles[s.ProfileID]
	fBefore, madpBefore, trackBefore := s.PeriodForecast, s.MADP, s.Track

	updated, err := Reforecast(ReforecastInput{
		SKU:           s,
		History:       history,
		Profile:       prof,
		Now:           now,
		PeerMean:      peerMean,
		AlphaFactor:   cfg.BasicAlphaFactor,
		DemandLimit:   cfg.ForecastDemandLimit,
		Impact:        cfg.UpdateFrequencyImpact,
		ImpactControl: cfg.UpdateFrequencyImpactControl,
		MADPHigh:      cfg.MADPHighThreshold,
		SlowLimit:     cfg.SlowMoverLimit,
	})
	if err == nil && updated {
		err = p.store.SaveSKU(ctx, s)
	}
	col.record(StageReforecast, err)

	// frozen and externally forecast SKUs still get scanned
	year, per, actual, ok := closedPeriodActual(s, history, prof, now)
	if !ok {
		col.record(StageExceptions, fmt.Errorf("%w: sku %s periodicity %d", ErrValidation, s.SkuID, s.Periodicity))
		return
	}
	existing, err := p.store.UnresolvedExceptionTypes(ctx, s.SkuID, year, per)
	if err != nil {
		col.record(StageExceptions, err)
		return
	}
	excs, err := ScanExceptions(ExceptionScanInput{
		SKU:              s,
		ActualDemand:     actual,
		PeriodYear:       year,
		PeriodNumber:     per,
		Now:              now,
		ForecastBefore:   fBefore,
		MADPBefore:       madpBefore,
		TrackBefore:      trackBefore,
		DemandFilterHigh: cfg.DemandFilterHigh,
		DemandFilterLow:  cfg.DemandFilterLow,
		TrackLimit:       cfg.TrackingSignalLimit,
		Existing:         existing,
	})
	if err == nil && len(excs) > 0 {
		err = p.store.SaveExceptions(ctx, excs)
	}
	col.record(StageExceptions, err)
}

// closedPeriodActual locates the period the scan judges: the newest
// usable history record, or the calendar period with zero demand when
// the SKU has no history yet. The actual comes back deseasonalized.
func closedPeriodActual(s *SKU, history []HistoryRecord, prof *Profile, now time.Time) (year, per int, actual float64, ok bool) {
	usable := usableHistory(history)
	if len(usable) > 0 {
		h := usable[0]
		return h.PeriodYear, h.PeriodNumber, Deseasonalize(h.TotalDemand, prof, h.PeriodNumber), true
	}
	y, pnum, err := period.Current(now, s.Periodicity)
	if err != nil {
		return 0, 0, 0, false
	}
	return y, pnum, 0, true
}

// BackfillLostSales mirrors a SKU's out-of-stock days into the open
// period's lost-sales estimate, one forecast day of demand per day
// out, seasonalized when the SKU carries a profile. Records a buyer
// has adjusted keep their figures. Returns true when the record
// changed. Idempotent: re-running on the same counts writes nothing.
func BackfillLostSales(sku *SKU, rec *HistoryRecord, prof *Profile) bool {
	if sku == nil || rec == nil || rec.IsAdjusted || sku.OutOfStockDays <= 0 {
		return false
	}
	lost := sku.DailyDemand() * float64(sku.OutOfStockDays)
	if prof != nil {
		lost = Seasonalize(lost, prof, rec.PeriodNumber)
	}
	if rec.OutOfStockDays == sku.OutOfStockDays && math.Abs(lost-rec.LostSales) <= epsilon {
		return false
	}
	rec.LostSales = lost
	rec.OutOfStockDays = sku.OutOfStockDays
	rec.Recompute()
	return true
}

// peerMeanForecast is the mean period forecast of a vendor's
// initialized SKUs, the seed for brand-new peers.
func peerMeanForecast(skus []*SKU) float64 {
	var sum float64
	var n int
	for _, s := range skus {
		if s.SystemClass == SystemUninitialized || s.PeriodForecast <= epsilon {
			continue
		}
		sum += s.PeriodForecast
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func newRun(kind, warehouseID string, now time.Time) *Run {
	return &Run{
		RunID:       uuid.New().String(),
		Kind:        kind,
		WarehouseID: warehouseID,
		StartedAt:   now,
		Stages:      map[string]StageStats{},
	}
}

// finish stamps the run and persists it on a fresh context, so a
// timed-out run still leaves its row behind.
func (p *Pipeline) finish(run *Run, col *statsCollector, err error) {
	run.FinishedAt = time.Now().UTC()
	run.Stages = col.snapshot()
	run.OK = err == nil

	saveCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if saveErr := p.store.SaveRun(saveCtx, run); saveErr != nil {
		p.progress("run %s not persisted: %v", run.RunID, saveErr)
	}
}

func runTimeout(cfg *config.Settings) time.Duration {
	m := cfg.RunTimeoutMinutes
	if m <= 0 {
		m = 60
	}
	return time.Duration(m) * time.Minute
}

// statsCollector aggregates stage stats across vendor workers. The
// first fatal failure is kept aside so the run can abort.
type statsCollector struct {
	mu     sync.Mutex
	stages map[string]*StageStats
	fatal  error
}

func newStatsCollector() *statsCollector {
	return &statsCollector{stages: make(map[string]*StageStats)}
}

func (c *statsCollector) stage(name string) *StageStats {
	st, ok := c.stages[name]
	if !ok {
		st = &StageStats{}
		c.stages[name] = st
	}
	return st
}

func (c *statsCollector) record(stage string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage(stage).Record(err)
	if c.fatal == nil && IsFatal(err) {
		c.fatal = err
	}
}

// fatalErr returns the first fatal failure recorded, nil otherwise.
func (c *statsCollector) fatalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// bulk counts n units that succeeded or failed as one batch.
func (c *statsCollector) bulk(stage string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stage(stage)
	if err != nil {
		st.Record(err)
		return
	}
	st.Total += n
	st.Processed += n
}

func (c *statsCollector) snapshot() map[string]StageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]StageStats, len(c.stages))
	for name, st := range c.stages {
		out[name] = *st
	}
	return out
}
