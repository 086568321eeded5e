package core

import "github.com/shopspring/decimal"

// MonthlyTotal is one bar of the monthly breakdown.
type MonthlyTotal struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// CategoryValue is one slice of the category breakdown.
type CategoryValue struct {
	Category string          `json:"name"`
	Value    decimal.Decimal `json:"value"`
}

// Totals holds the headline figures of a report.
type Totals struct {
	TotalIncome   decimal.Decimal `json:"totalIncome"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
	NetBalance    decimal.Decimal `json:"netBalance"`
}

// ReportSummary is the read-only aggregate computed by the backend.
type ReportSummary struct {
	Totals            Totals          `json:"summary"`
	MonthlyBreakdown  []MonthlyTotal  `json:"monthlyData"`
	CategoryBreakdown []CategoryValue `json:"categoryData"`
}
