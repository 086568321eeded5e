package http

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/query"
	"fintrack/internal/session"
)

// chartPalette colours category slices in order, wrapping around.
var chartPalette = []string{
	"#2563eb", "#16a34a", "#f59e0b", "#dc2626", "#7c3aed",
	"#8884d8", "#82ca9d", "#ffc658", "#ff7300", "#8dd1e1",
	"#a4de6c", "#d0ed57",
}

// minLabelPercent hides slice labels on very small slices.
var minLabelPercent = decimal.NewFromInt(5)

var hundred = decimal.NewFromInt(100)

type monthBar struct {
	Month        string
	Income       string
	Expenses     string
	IncomeWidth  int
	ExpenseWidth int
}

// categorySlice is one slice of the donut chart. The ring has a
// circumference of 100 so Percent doubles as the stroke length.
type categorySlice struct {
	Name      string
	Value     string
	Percent   string
	Color     string
	Dash      string
	Offset    string
	ShowLabel bool
}

type reportChart struct {
	TotalIncome   string
	TotalExpenses string
	NetBalance    string
	NetNegative   bool
	Months        []monthBar
	Categories    []categorySlice
}

type reportsPage struct {
	Chart   reportChart
	HasData bool
	Loading bool
	Error   string
}

// shapeReport turns the backend summary into what the templates draw.
func shapeReport(rs core.ReportSummary) reportChart {
	c := reportChart{
		TotalIncome:   core.FormatAmount(rs.Totals.TotalIncome),
		TotalExpenses: core.FormatAmount(rs.Totals.TotalExpenses),
		NetBalance:    core.FormatSigned(rs.Totals.NetBalance),
		NetNegative:   rs.Totals.NetBalance.IsNegative(),
	}

	peak := decimal.Zero
	for _, m := range rs.MonthlyBreakdown {
		peak = decimal.Max(peak, m.Income, m.Expenses)
	}
	for _, m := range rs.MonthlyBreakdown {
		c.Months = append(c.Months, monthBar{
			Month:        m.Month,
			Income:       core.FormatAmount(m.Income),
			Expenses:     core.FormatAmount(m.Expenses),
			IncomeWidth:  barWidth(m.Income, peak),
			ExpenseWidth: barWidth(m.Expenses, peak),
		})
	}

	total := decimal.Zero
	for _, cv := range rs.CategoryBreakdown {
		if cv.Value.IsPositive() {
			total = total.Add(cv.Value)
		}
	}
	// Slices start at twelve o'clock; an offset of 25 on a ring of 100
	// moves the stroke start there.
	offset := decimal.NewFromInt(25)
	for i, cv := range rs.CategoryBreakdown {
		pct := decimal.Zero
		if total.IsPositive() && cv.Value.IsPositive() {
			pct = cv.Value.Div(total).Mul(hundred)
		}
		c.Categories = append(c.Categories, categorySlice{
			Name:      cv.Category,
			Value:     core.FormatAmount(cv.Value),
			Percent:   pct.StringFixed(1),
			Color:     chartPalette[i%len(chartPalette)],
			Dash:      pct.StringFixed(2) + " " + hundred.Sub(pct).StringFixed(2),
			Offset:    offset.StringFixed(2),
			ShowLabel: pct.GreaterThanOrEqual(minLabelPercent),
		})
		offset = offset.Sub(pct)
	}
	return c
}

// barWidth returns v as a rounded percentage of peak. Non-zero values get
// at least 2 so they stay visible.
func barWidth(v, peak decimal.Decimal) int {
	if !peak.IsPositive() || !v.IsPositive() {
		return 0
	}
	w := int(v.Mul(hundred).Div(peak).Round(0).IntPart())
	if w < 2 {
		w = 2
	}
	if w > 100 {
		w = 100
	}
	return w
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryWait)
	defer cancel()
	res := query.Fetch(ctx, v.Queries, reportsKey(), tokenReady(sess), func(ctx context.Context) (core.ReportSummary, error) {
		return withToken(ctx, v, func(token string) (core.ReportSummary, error) {
			return s.backend.GetReports(ctx, token)
		})
	})

	page := reportsPage{
		HasData: res.HasData,
		Loading: res.IsLoading && !res.HasData,
	}
	if res.HasData {
		page.Chart = shapeReport(res.Data)
	}
	resp := Page("reports", "Reports")
	if page.Loading {
		resp.Refresh(2)
	}
	if res.IsError {
		page.Error = core.UserMessage(res.Err)
		if !res.HasData {
			resp.Status(statusFor(res.Err))
		}
	}
	s.write(w, r, v, resp.With(page))
}
