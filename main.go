package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"stockcast/internal/db"
	"stockcast/internal/engine"
	"stockcast/internal/logger"
	"stockcast/internal/period"
)

var version = "dev"

func main() {
	godotenv.Load()

	dbPath := flag.String("db", "", "SQLite database path (default ./stockcast.db, STOCKCAST_DB overrides)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	logger.Banner(version)

	path := *dbPath
	if path == "" {
		path = os.Getenv("STOCKCAST_DB")
	}
	database, err := db.Open(path)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, database, args[0], args[1:]); err != nil {
		logger.Error("CLI", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, d *db.DB, cmd string, args []string) error {
	switch cmd {
	case "nightly":
		return cmdNightly(ctx, d, args)
	case "period-end":
		return cmdPeriodEnd(ctx, d, args)
	case "history":
		return cmdHistory(ctx, d, args)
	case "order-adjust":
		return cmdOrderAdjust(ctx, d, args)
	case "orders":
		return cmdOrders(ctx, d, args)
	case "runs":
		return cmdRuns(ctx, d, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `stockcast - automated stock replenishment

Usage: stockcast [-db <path>] <command> [flags]

Commands:
  nightly        Run the nightly maintenance pipeline
  period-end     Close the forecast period (reforecast + exceptions)
  history        Maintain demand history:
                   create-period, update, purge, archive, copy
  order-adjust   Adjust a built order:
                   rebuild, adjust-pct, optimize-bracket, forward-buy
  orders         List orders
  runs           List recent pipeline runs

Run "stockcast <command> -h" for command flags.
`)
}

func cmdNightly(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("nightly", flag.ExitOnError)
	warehouse := fs.String("warehouse", "", "limit the run to one warehouse")
	verbose := fs.Bool("verbose", false, "print per-stage statistics")
	fs.Parse(args)

	p := engine.NewPipeline(d, nil)
	p.Progress = func(msg string) { logger.Info("Nightly", msg) }

	run, err := p.Nightly(ctx, *warehouse, time.Now())
	if run != nil && *verbose {
		printStages(run)
	}
	if err != nil {
		return fmt.Errorf("nightly: %w", err)
	}
	logger.Success("Nightly", fmt.Sprintf("Run %s finished in %s",
		run.RunID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)))
	return nil
}

func cmdPeriodEnd(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("period-end", flag.ExitOnError)
	warehouse := fs.String("warehouse", "", "limit the run to one warehouse")
	force := fs.Bool("force", false, "close the period even when the calendar disagrees")
	verbose := fs.Bool("verbose", false, "print per-stage statistics")
	fs.Parse(args)

	p := engine.NewPipeline(d, nil)
	p.Progress = func(msg string) { logger.Info("PeriodEnd", msg) }

	run, err := p.PeriodEnd(ctx, *warehouse, time.Now(), *force)
	if err != nil {
		if run != nil && *verbose {
			printStages(run)
		}
		return fmt.Errorf("period-end: %w", err)
	}
	if run == nil {
		logger.Info("PeriodEnd", "Not the last day of the period, nothing to close (use --force to override)")
		return nil
	}
	if *verbose {
		printStages(run)
	}
	logger.Success("PeriodEnd", fmt.Sprintf("Run %s finished in %s",
		run.RunID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)))
	return nil
}

func cmdHistory(ctx context.Context, d *db.DB, args []string) error {
	if len(args) == 0 {
		return errors.New("history: missing subcommand (create-period, update, purge, archive, copy)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create-period":
		return historyCreate(ctx, d, rest)
	case "update":
		return historyUpdate(ctx, d, rest)
	case "purge":
		return historyPurge(ctx, d, rest, false)
	case "archive":
		return historyPurge(ctx, d, rest, true)
	case "copy":
		return historyCopy(ctx, d, rest)
	default:
		return fmt.Errorf("history: unknown subcommand %q", sub)
	}
}

func historyCreate(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("history create-period", flag.ExitOnError)
	sku := fs.String("sku", "", "SKU id")
	year := fs.Int("year", 0, "period year")
	per := fs.Int("period", 0, "period number")
	shipped := fs.Float64("shipped", 0, "shipped units")
	lost := fs.Float64("lost-sales", 0, "lost sales units")
	promo := fs.Float64("promo", 0, "promotional demand units")
	oos := fs.Int("oos-days", 0, "out-of-stock days")
	fs.Parse(args)

	if *sku == "" || *year == 0 || *per == 0 {
		return errors.New("history create-period: -sku, -year and -period are required")
	}
	rec := &engine.HistoryRecord{
		SkuID:             *sku,
		PeriodYear:        *year,
		PeriodNumber:      *per,
		Shipped:           *shipped,
		LostSales:         *lost,
		PromotionalDemand: *promo,
		OutOfStockDays:    *oos,
	}
	rec.Recompute()
	if err := d.CreateHistoryPeriod(ctx, rec); err != nil {
		return err
	}
	logger.Success("History", fmt.Sprintf("Created %s %d/%d (total demand %.1f)",
		rec.SkuID, rec.PeriodYear, rec.PeriodNumber, rec.TotalDemand))
	return nil
}

func historyUpdate(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("history update", flag.ExitOnError)
	sku := fs.String("sku", "", "SKU id")
	year := fs.Int("year", 0, "period year")
	per := fs.Int("period", 0, "period number")
	shipped := fs.Float64("shipped", 0, "shipped units")
	lost := fs.Float64("lost-sales", 0, "lost sales units")
	promo := fs.Float64("promo", 0, "promotional demand units")
	oos := fs.Int("oos-days", 0, "out-of-stock days")
	ignore := fs.Bool("ignore", false, "exclude the period from forecasting")
	unignore := fs.Bool("unignore", false, "include the period in forecasting again")
	fs.Parse(args)

	if *sku == "" || *year == 0 || *per == 0 {
		return errors.New("history update: -sku, -year and -period are required")
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *ignore || *unignore {
		if err := d.SetHistoryIgnored(ctx, *sku, *year, *per, *ignore); err != nil {
			return err
		}
		logger.Success("History", fmt.Sprintf("%s %d/%d ignored=%v", *sku, *year, *per, *ignore))
	}

	if set["shipped"] || set["lost-sales"] || set["promo"] || set["oos-days"] {
		rec, err := d.HistoryRecordFor(ctx, *sku, *year, *per)
		if err != nil {
			return err
		}
		if set["shipped"] {
			rec.Shipped = *shipped
		}
		if set["lost-sales"] {
			rec.LostSales = *lost
		}
		if set["promo"] {
			rec.PromotionalDemand = *promo
		}
		if set["oos-days"] {
			rec.OutOfStockDays = *oos
		}
		rec.Recompute()
		rec.IsAdjusted = true
		if err := d.UpsertHistory(ctx, rec); err != nil {
			return err
		}
		logger.Success("History", fmt.Sprintf("Updated %s %d/%d (total demand %.1f)",
			rec.SkuID, rec.PeriodYear, rec.PeriodNumber, rec.TotalDemand))
	}
	return nil
}

func historyPurge(ctx context.Context, d *db.DB, args []string, archive bool) error {
	name := "history purge"
	if archive {
		name = "history archive"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	sku := fs.String("sku", "", "SKU id (empty = all SKUs)")
	keep := fs.Int("keep", 0, "periods to keep (default history_periods_to_keep)")
	fs.Parse(args)

	cfg, err := d.Settings(ctx)
	if err != nil {
		return err
	}
	if *keep <= 0 {
		*keep = cfg.HistoryPeriodsToKeep
	}
	year, per, err := period.Current(time.Now(), cfg.PeriodicityDefault)
	if err != nil {
		return err
	}
	cy, cp := period.Shift(year, per, cfg.PeriodicityDefault, -*keep)

	var n int
	if archive {
		n, err = d.ArchiveHistoryBefore(ctx, *sku, cy, cp, time.Now())
	} else {
		n, err = d.PurgeHistoryBefore(ctx, *sku, cy, cp)
	}
	if err != nil {
		return err
	}
	verb := "Purged"
	if archive {
		verb = "Archived"
	}
	logger.Success("History", fmt.Sprintf("%s %d periods older than %d/%d", verb, n, cy, cp))
	return nil
}

func historyCopy(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("history copy", flag.ExitOnError)
	from := fs.String("from", "", "source SKU id")
	to := fs.String("to", "", "target SKU id")
	scale := fs.Float64("scale", 1, "demand scale factor")
	fs.Parse(args)

	if *from == "" || *to == "" {
		return errors.New("history copy: -from and -to are required")
	}
	n, err := d.CopyHistory(ctx, *from, *to, *scale)
	if err != nil {
		return err
	}
	logger.Success("History", fmt.Sprintf("Copied %d periods %s -> %s (scale %.2f)", n, *from, *to, *scale))
	return nil
}

func cmdOrderAdjust(ctx context.Context, d *db.DB, args []string) error {
	if len(args) == 0 {
		return errors.New("order-adjust: missing subcommand (rebuild, adjust-pct, optimize-bracket, forward-buy)")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("order-adjust "+sub, flag.ExitOnError)
	orderID := fs.Int64("order", 0, "order id")
	bracketNo := fs.Int("bracket", 0, "bracket number (default the order's current bracket)")
	pct := fs.Float64("pct", 0, "percentage change, e.g. 10 or -15")
	increase := fs.Float64("increase-pct", 0, "announced price increase percent")
	maxDays := fs.Float64("max-days", 0, "cap on days bought ahead (default forward_buy_max_days)")
	fs.Parse(rest)

	if *orderID == 0 {
		return errors.New("order-adjust: -order is required")
	}
	order, err := d.Order(ctx, *orderID)
	if err != nil {
		return err
	}
	vendor, err := d.Vendor(ctx, order.VendorID)
	if err != nil {
		return err
	}
	skus, err := d.SKUsForVendor(ctx, order.VendorID)
	if err != nil {
		return err
	}
	cfg, err := d.Settings(ctx)
	if err != nil {
		return err
	}

	switch sub {
	case "rebuild", "optimize-bracket":
		brackets, err := d.BracketsForVendor(ctx, order.VendorID)
		if err != nil {
			return err
		}
		no := *bracketNo
		if no == 0 {
			no = order.CurrentBracket
		}
		var bracket *engine.Bracket
		for i := range brackets {
			if brackets[i].BracketNumber == no {
				bracket = &brackets[i]
				break
			}
		}
		if bracket == nil {
			return fmt.Errorf("%w: bracket %d for vendor %s", engine.ErrNotFound, no, order.VendorID)
		}

		if sub == "rebuild" {
			days, err := engine.RebuildToBracket(order, skus, *bracket)
			if err != nil {
				return err
			}
			if err := d.SaveOrder(ctx, order); err != nil {
				return err
			}
			logger.Success("Order", fmt.Sprintf("Rebuilt order %d to bracket %d, +%.1f days of supply",
				order.ID, no, days))
			return nil
		}

		sim, err := engine.OptimizeToBracket(order, skus, *bracket)
		if err != nil {
			return err
		}
		logger.Section(fmt.Sprintf("Bracket %d simulation for order %d", no, order.ID))
		logger.Stats("Days added", fmt.Sprintf("%.1f", sim.DaysAdded))
		logger.Stats("Projected amount", sim.Projected.Amount.StringFixed(2))
		logger.Stats("Projected eaches", fmt.Sprintf("%.0f", sim.Projected.Eaches))
		logger.Stats("Minimum met", sim.MinimumMet)
		logger.Stats("Maximum exceeded", sim.MaximumExceeded)
		return nil

	case "adjust-pct":
		if *pct == 0 {
			return errors.New("order-adjust adjust-pct: -pct is required")
		}
		if err := engine.AdjustPct(order, skus, *pct); err != nil {
			return err
		}
		if err := d.SaveOrder(ctx, order); err != nil {
			return err
		}
		logger.Success("Order", fmt.Sprintf("Adjusted order %d by %+.1f%%, final amount %s",
			order.ID, *pct, order.FinalAdjust.Amount.StringFixed(2)))
		return nil

	case "forward-buy":
		if *increase <= 0 {
			return errors.New("order-adjust forward-buy: -increase-pct is required")
		}
		md := *maxDays
		if md <= 0 {
			md = float64(cfg.ForwardBuyMaxDays)
		}
		res, err := engine.ForwardBuy(engine.ForwardBuyInput{
			Order:        order,
			SKUs:         skus,
			IncreasePct:  *increase,
			CarryingRate: cfg.CarryingCostRate,
			CycleDays:    vendor.OrderCycleDays,
			MaxDays:      md,
		})
		if err != nil {
			return err
		}
		logger.Section(fmt.Sprintf("Forward buy for order %d at +%.1f%% price increase", order.ID, *increase))
		logger.Stats("Days ahead", fmt.Sprintf("%.1f", res.Days))
		logger.Stats("Added amount", res.AddedAmount.StringFixed(2))
		logger.Stats("Savings", fmt.Sprintf("%.2f", res.Savings))
		logger.Stats("Carrying cost", fmt.Sprintf("%.2f", res.CarryingCost))
		return nil

	default:
		return fmt.Errorf("order-adjust: unknown subcommand %q", sub)
	}
}

func cmdOrders(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	vendor := fs.String("vendor", "", "filter by vendor id")
	warehouse := fs.String("warehouse", "", "filter by warehouse id")
	all := fs.Bool("all", false, "include accepted, received, purged and deactivated orders")
	fs.Parse(args)

	statuses := []engine.OrderStatus{engine.OrderPlanned, engine.OrderDue}
	if *all {
		statuses = nil
	}
	orders, err := d.Orders(ctx, *vendor, statuses)
	if err != nil {
		return err
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"ID", "Vendor", "Warehouse", "Status", "Ordered", "Expected", "Amount", "Eaches", "Bracket"})
	shown := 0
	for _, o := range orders {
		if *warehouse != "" && o.WarehouseID != *warehouse {
			continue
		}
		table.Append([]string{
			strconv.FormatInt(o.ID, 10),
			o.VendorID,
			o.WarehouseID,
			o.Status.String(),
			fmtDate(o.OrderDate),
			fmtDate(o.ExpectedDeliveryDate),
			o.FinalAdjust.Amount.StringFixed(2),
			fmt.Sprintf("%.0f", o.FinalAdjust.Eaches),
			strconv.Itoa(o.CurrentBracket),
		})
		shown++
	}
	if shown == 0 {
		logger.Info("Orders", "No matching orders")
		return nil
	}
	table.Render()
	return nil
}

func cmdRuns(ctx context.Context, d *db.DB, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	fs.Parse(args)

	runs, err := d.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		logger.Info("Runs", "No runs recorded yet")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Run", "Kind", "Warehouse", "Started", "Duration", "OK", "Errors"})
	for _, r := range runs {
		errCount := 0
		for _, st := range r.Stages {
			errCount += st.Errors
		}
		table.Append([]string{
			r.RunID,
			r.Kind,
			r.WarehouseID,
			r.StartedAt.Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			strconv.FormatBool(r.OK),
			strconv.Itoa(errCount),
		})
	}
	table.Render()
	return nil
}

func printStages(run *engine.Run) {
	names := make([]string, 0, len(run.Stages))
	for name := range run.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Stage", "Total", "Processed", "Errors", "Not found", "Validation", "Storage", "Policy"})
	for _, name := range names {
		st := run.Stages[name]
		table.Append([]string{
			name,
			strconv.Itoa(st.Total),
			strconv.Itoa(st.Processed),
			strconv.Itoa(st.Errors),
			strconv.Itoa(st.NotFound),
			strconv.Itoa(st.Validation),
			strconv.Itoa(st.Storage),
			strconv.Itoa(st.Policy),
		})
	}
	table.Render()
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
