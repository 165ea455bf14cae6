package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/fetcher"
	"albion-price-alerts/internal/rules"
)

// Prices prints the current sell quotes for the requested items.
func (a *App) Prices(ctx context.Context, opts PricesOptions) error {
	if len(opts.Items) == 0 {
		return errors.New("at least one item is required")
	}

	points := a.Market().FetchCurrent(ctx, opts.Items, opts.Cities, opts.Qualities)
	if len(points) == 0 {
		fmt.Fprintln(a.Out, "no quotes found")
		return nil
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].ItemID != points[j].ItemID {
			return points[i].ItemID < points[j].ItemID
		}
		return points[i].SellPriceMin.LessThan(points[j].SellPriceMin)
	})

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Item\tCity\tQuality\tSell Min\tObserved (UTC)")
	for _, p := range points {
		observed := "-"
		if !p.ObservedAt.IsZero() {
			observed = p.ObservedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n", p.ItemID, p.City, p.Quality, formatDecimal(p.SellPriceMin, 0), observed)
	}
	return writer.Flush()
}

// History prints a historical series together with the baseline computed over it.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	q, err := historyQuery(opts)
	if err != nil {
		return err
	}

	points := a.Market().FetchHistory(ctx, q.ItemID, q.Cities, q.Days, q.Resolution)
	if len(points) == 0 {
		fmt.Fprintln(a.Out, "no history found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCity\tAvg Price\tCount")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n", p.Timestamp.UTC().Format(time.RFC3339), p.City, formatDecimal(p.AvgPrice, 0), p.ItemCount)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	value, ok := baseline.Compute(baseline.ExtractPrices(points), q.Statistic, q.MinPoints)
	if !ok {
		fmt.Fprintf(a.Out, "baseline: insufficient history (%d points, need %d)\n", len(points), q.MinPoints)
		return nil
	}
	fmt.Fprintf(a.Out, "baseline (%s of %d points): %s\n", q.Statistic, len(points), formatDecimal(value, 2))
	return nil
}

// historyQuery applies the AI rule defaults and validates the result.
func historyQuery(opts HistoryOptions) (baseline.Query, error) {
	item := strings.ToUpper(strings.TrimSpace(opts.ItemID))
	if item == "" {
		return baseline.Query{}, errors.New("item is required")
	}

	params := rules.AIParams{
		Days:       opts.Days,
		Resolution: fetcher.Resolution(opts.Resolution),
		Statistic:  baseline.Statistic(opts.Statistic),
		MinPoints:  opts.MinPoints,
	}
	if err := rules.ValidateAI(params); err != nil {
		return baseline.Query{}, err
	}
	params = params.WithDefaults()

	return baseline.Query{
		ItemID:     item,
		Cities:     opts.Cities,
		Days:       params.Days,
		Resolution: params.Resolution,
		Statistic:  params.Statistic,
		MinPoints:  params.MinPoints,
	}, nil
}
