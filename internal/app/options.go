package app

import "time"

// AlertOptions describe a new alert as given on the command line.
// Prices are decimal strings; empty means unset.
type AlertOptions struct {
	Email           string
	ItemID          string
	DisplayName     string
	City            string
	Quality         int
	TargetPrice     string
	ExpectedPrice   string
	PercentBelow    string
	UseAIExpected   bool
	AIDays          int
	AIResolution    string
	AIStat          string
	AIMinPoints     int
	CooldownMinutes int
	Inactive        bool
}

// ListOptions filter the alert and notification listings.
type ListOptions struct {
	UserID     int64
	UnreadOnly bool
	Limit      int
}

// PricesOptions select the current quotes to print.
type PricesOptions struct {
	Items     []string
	Cities    []string
	Qualities []int
}

// HistoryOptions select a history window and the baseline computed over it.
type HistoryOptions struct {
	ItemID     string
	Cities     []string
	Days       int
	Resolution string
	Statistic  string
	MinPoints  int
}

// ExportOptions configure history export to CSV and/or PNG.
type ExportOptions struct {
	History   HistoryOptions
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// BackfillOptions control baseline recomputation.
type BackfillOptions struct {
	DryRun bool
}

// SimulateOptions feed a synthetic quote through one alert definition.
type SimulateOptions struct {
	Alert        AlertOptions
	CurrentPrice string
	City         string

	// HistoryPrices seed the AI baseline; one synthetic point per value.
	HistoryPrices []string
	SendEmail     bool
	Now           time.Time
}
