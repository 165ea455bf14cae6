package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/service"
)

// BackfillBaselines recomputes the AI baseline of every active alert and
// memoizes it, so the first check after a deploy does not start cold.
func (a *App) BackfillBaselines(ctx context.Context, opts BackfillOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.backfill(ctx, store, opts)
}

func (a *App) backfill(ctx context.Context, store service.Store, opts BackfillOptions) error {
	if opts.DryRun {
		a.Logger.Warn().Msg("baseline backfill dry-run: nothing will be written")
		store = dryRunStore{Store: store}
	}

	svc := a.newService(store, nil, nil)
	refreshed, err := svc.RefreshBaselines(ctx)
	if err != nil {
		return err
	}

	missing := 0
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Alert\tItem\tBaseline")
	for _, r := range refreshed {
		value := "insufficient history"
		if r.OK {
			value = formatDecimal(r.Baseline, 2)
		} else {
			missing++
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\n", r.AlertID, r.ItemID, value)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	a.Logger.Info().
		Int("alerts", len(refreshed)).
		Int("missing", missing).
		Bool("dry_run", opts.DryRun).
		Msg("baseline backfill complete")
	return nil
}

// dryRunStore drops baseline writes.
type dryRunStore struct {
	service.Store
}

func (dryRunStore) SaveExpectedPrice(context.Context, int64, decimal.Decimal, time.Time) error {
	return nil
}
