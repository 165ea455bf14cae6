package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/rules"
)

// ListAlerts prints alerts, optionally restricted to one owner.
func (a *App) ListAlerts(ctx context.Context, opts ListOptions) error {
	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListAlerts(ctx, opts.UserID)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tUser\tItem\tCity\tQuality\tRule\tCondition\tCooldown\tLast Triggered (UTC)\tActive")

	for _, alert := range alerts {
		city, quality := "-", "-"
		if alert.City != nil {
			city = *alert.City
		}
		if alert.Quality != nil {
			quality = fmt.Sprint(*alert.Quality)
		}
		kind, condition := describeRule(alert.Definition())
		last := "-"
		if alert.LastTriggeredAt != nil {
			last = alert.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%d\t%d\t%s\t%s\t%s\t%s\t%s\t%dm\t%s\t%t\n",
			alert.ID,
			alert.UserID,
			sanitizeInline(alert.Label()),
			city,
			quality,
			kind,
			condition,
			alert.CooldownMinutes,
			last,
			alert.IsActive,
		)
	}

	return writer.Flush()
}

// ListNotifications prints the newest notifications of one owner.
func (a *App) ListNotifications(ctx context.Context, opts ListOptions) error {
	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	notes, err := store.ListNotifications(ctx, opts.UserID, opts.UnreadOnly, limit)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Fprintln(a.Out, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTime (UTC)\tRead\tTitle\tBody")
	for _, n := range notes {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%t\t%s\t%s\n",
			n.ID,
			n.CreatedAt.UTC().Format(time.RFC3339),
			n.IsRead,
			sanitizeInline(n.Title),
			sanitizeInline(n.Body),
		)
	}
	return writer.Flush()
}

func describeRule(def rules.Definition) (string, string) {
	rule, err := rules.Resolve(def)
	if err != nil {
		return "none", "-"
	}

	parts := make([]string, 0, 2)
	kind := string(rule.Kind())
	if th, ok := rule.(rules.Threshold); ok {
		parts = append(parts, "<= "+formatDecimal(th.Target, 0))
		rule = th.Fallback
		if rule != nil {
			kind += "+" + string(rule.Kind())
		}
	}
	switch r := rule.(type) {
	case rules.ManualDiscount:
		parts = append(parts, fmt.Sprintf("%s%% below %s", formatDecimal(r.PercentBelow, 1), formatDecimal(r.Expected, 0)))
	case rules.AIDiscount:
		parts = append(parts, fmt.Sprintf("%s%% below %s of %dd/%s", formatDecimal(r.PercentBelow, 1), r.Params.Statistic, r.Params.Days, r.Params.Resolution))
	}
	return kind, strings.Join(parts, " or ")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
