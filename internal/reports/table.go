package reports

import (
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// Table renders the due report grid.
func (r DueReport) Table() Table {
	t := Table{Columns: []string{"Somiti", "Member", "Phone", "Due", "Credit", "Last Payment", "Months Due"}, Rows: [][]string{}}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []string{
			row.SomitiName,
			row.MemberName,
			row.MemberPhone,
			row.DueAmount.String(),
			row.CreditAmount.String(),
			formatDate(dateOrZero(row.LastPaymentDate)),
			strconv.Itoa(row.MonthsDue),
		})
	}
	return t
}

// Table renders the monthly summary grid.
func (r MonthlySummary) Table() Table {
	t := Table{Columns: []string{"Month", "Somiti", "Amount", "Payments"}, Rows: [][]string{}}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []string{row.MonthName, row.SomitiName, row.Amount.String(), strconv.Itoa(row.Count)})
	}
	return t
}

// Table renders the per-day collection grid.
func (r SomitiCollection) Table() Table {
	t := Table{Columns: []string{"Date", "Paid", "Pending", "Payments"}, Rows: [][]string{}}
	for _, row := range r.Days {
		t.Rows = append(t.Rows, []string{formatDate(row.Date), row.Paid.String(), row.Pending.String(), strconv.Itoa(row.Count)})
	}
	return t
}

// Table renders the member payments grid.
func (r MemberPayments) Table() Table {
	t := Table{Columns: []string{"Somiti", "Total", "Paid", "Pending", "Payments"}, Rows: [][]string{}}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []string{row.SomitiName, row.Total.String(), row.Paid.String(), row.Pending.String(), strconv.Itoa(row.Count)})
	}
	return t
}

// Table renders the upcoming collections grid.
func (r UpcomingCollections) Table() Table {
	t := Table{Columns: []string{"Somiti", "Type", "Next Collection", "Day", "Active Members", "Expected"}, Rows: [][]string{}}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []string{
			row.SomitiName,
			string(row.Type),
			formatDate(row.NextCollectionDate),
			row.DayLabel,
			strconv.Itoa(row.ActiveMembers),
			row.ExpectedAmount.String(),
		})
	}
	return t
}
