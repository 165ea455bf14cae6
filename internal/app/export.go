package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/fetcher"
)

// Export renders an item's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	q, err := historyQuery(opts.History)
	if err != nil {
		return err
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	points := a.Market().FetchHistory(ctx, q.ItemID, q.Cities, q.Days, q.Resolution)
	if len(points) == 0 {
		a.Logger.Info().Str("item", q.ItemID).Msg("no history found for export window")
		return nil
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	// the baseline covers the full series, not the downsampled one
	base, hasBase := baseline.Compute(baseline.ExtractPrices(points), q.Statistic, q.MinPoints)

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().
		Str("item", q.ItemID).
		Int("total", len(points)).
		Int("exported", len(downsampled)).
		Bool("baseline", hasBase).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		var line *decimal.Decimal
		if hasBase {
			line = &base
		}
		title := fmt.Sprintf("%s (%s, %dd/%s)", q.ItemID, q.Statistic, q.Days, q.Resolution)
		if err := writeHistoryPNG(opts.PNGPath, title, downsampled, line); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []fetcher.HistoryPoint, max int) []fetcher.HistoryPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]fetcher.HistoryPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []fetcher.HistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"timestamp", "city", "avg_price", "item_count"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			p.City,
			p.AvgPrice.String(),
			strconv.FormatInt(p.ItemCount, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path, title string, points []fetcher.HistoryPoint, base *decimal.Decimal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	// one series per city so that interleaved cities do not zig-zag
	byCity := make(map[string]*chart.TimeSeries)
	var cities []string
	for _, p := range points {
		if !p.AvgPrice.IsPositive() {
			continue
		}
		s, ok := byCity[p.City]
		if !ok {
			s = &chart.TimeSeries{Name: p.City}
			byCity[p.City] = s
			cities = append(cities, p.City)
		}
		s.XValues = append(s.XValues, p.Timestamp)
		s.YValues = append(s.YValues, p.AvgPrice.InexactFloat64())
	}
	if len(cities) == 0 {
		return errors.New("no positive prices to plot")
	}
	sort.Strings(cities)

	series := make([]chart.Series, 0, len(cities)+1)
	for _, city := range cities {
		series = append(series, *byCity[city])
	}
	if base != nil {
		first, last := points[0].Timestamp, points[len(points)-1].Timestamp
		series = append(series, chart.TimeSeries{
			Name:    "Baseline",
			XValues: []time.Time{first, last},
			YValues: []float64{base.InexactFloat64(), base.InexactFloat64()},
			Style: chart.Style{
				StrokeDashArray: []float64{5, 5},
			},
		})
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Silver",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
