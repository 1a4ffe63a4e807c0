package reports

import (
	"sort"
	"strings"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
)

// BuildDueReport folds active memberships and their paid payments into the
// due report. Inactive memberships are left out so the total matches the sum
// of active balances.
func BuildDueReport(memberships []MembershipRow, payments []PaymentRow, filter Filter) DueReport {
	asOf := schedule.Date(filter.AsOf)
	report := DueReport{AsOf: asOf, Rows: []DueRow{}}

	type key struct{ somiti, member int64 }
	lastPaid := map[key]time.Time{}
	lastCollection := map[key]time.Time{}
	for _, p := range payments {
		if p.Status != statusPaid {
			continue
		}
		k := key{p.SomitiID, p.MemberID}
		if p.PaymentDate.After(lastPaid[k]) {
			lastPaid[k] = p.PaymentDate
		}
		if p.CollectionDate.After(lastCollection[k]) {
			lastCollection[k] = p.CollectionDate
		}
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, m := range memberships {
		if !m.IsActive || (filter.SomitiID != 0 && m.SomitiID != filter.SomitiID) {
			continue
		}
		if search != "" && !matches(search, m.MemberName, m.MemberPhone, m.SomitiName) {
			continue
		}
		k := key{m.SomitiID, m.MemberID}
		row := DueRow{
			SomitiID:     m.SomitiID,
			SomitiName:   m.SomitiName,
			MemberID:     m.MemberID,
			MemberName:   m.MemberName,
			MemberPhone:  m.MemberPhone,
			DueAmount:    m.DueAmount,
			CreditAmount: m.CreditAmount,
		}
		if last, ok := lastPaid[k]; ok {
			d := last
			row.LastPaymentDate = &d
		}
		if m.DueAmount.IsPositive() {
			row.MonthsDue = occasionsSince(m, lastCollection[k], asOf)
		}
		report.Rows = append(report.Rows, row)
		report.TotalDue += m.DueAmount
		report.TotalCredit += m.CreditAmount
	}
	report.Members = len(report.Rows)
	sortDueRows(report.Rows, filter)
	return report
}

// occasionsSince counts occasions after the last paid collection (or from
// the join date when nothing was paid) up to asOf.
func occasionsSince(m MembershipRow, lastCollection, asOf time.Time) int {
	start := schedule.Date(m.JoinDate)
	if !lastCollection.IsZero() {
		start = schedule.Date(lastCollection).AddDate(0, 0, 1)
	}
	if start.After(asOf) {
		return 0
	}
	n, err := schedule.CountOccurrences(m.Schedule(), start, asOf)
	if err != nil {
		return 0
	}
	return n
}

func sortDueRows(rows []DueRow, filter Filter) {
	less := func(a, b DueRow) bool {
		switch filter.SortField {
		case "somiti_name":
			return a.SomitiName < b.SomitiName
		case "due_amount":
			return a.DueAmount < b.DueAmount
		case "months_due":
			return a.MonthsDue < b.MonthsDue
		case "last_payment_date":
			return dateOrZero(a.LastPaymentDate).Before(dateOrZero(b.LastPaymentDate))
		default:
			return strings.ToLower(a.MemberName) < strings.ToLower(b.MemberName)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if filter.Desc() {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})
}

// BuildMonthlySummary groups paid payments of filter.Year by payment month
// and somiti. All twelve months are present in Months, zeroed when empty.
func BuildMonthlySummary(payments []PaymentRow, filter Filter) MonthlySummary {
	summary := MonthlySummary{Year: filter.Year, Rows: []MonthlyRow{}, Months: make([]MonthTotal, 12)}
	for i := range summary.Months {
		summary.Months[i] = MonthTotal{Month: i + 1, MonthName: time.Month(i + 1).String()}
	}

	type key struct {
		month  int
		somiti int64
	}
	index := map[key]int{}
	for _, p := range payments {
		if p.Status != statusPaid || p.PaymentDate.Year() != filter.Year {
			continue
		}
		if filter.SomitiID != 0 && p.SomitiID != filter.SomitiID {
			continue
		}
		month := int(p.PaymentDate.Month())
		k := key{month, p.SomitiID}
		i, ok := index[k]
		if !ok {
			i = len(summary.Rows)
			index[k] = i
			summary.Rows = append(summary.Rows, MonthlyRow{
				Month:      month,
				MonthName:  time.Month(month).String(),
				SomitiID:   p.SomitiID,
				SomitiName: p.SomitiName,
			})
		}
		summary.Rows[i].Amount += p.Amount
		summary.Rows[i].Count++
		summary.Months[month-1].Amount += p.Amount
		summary.Months[month-1].Count++
		summary.Total += p.Amount
		summary.Count++
	}
	sort.SliceStable(summary.Rows, func(i, j int) bool {
		a, b := summary.Rows[i], summary.Rows[j]
		if a.Month != b.Month {
			if filter.Desc() {
				return a.Month > b.Month
			}
			return a.Month < b.Month
		}
		return a.SomitiName < b.SomitiName
	})
	return summary
}

// BuildSomitiCollection lists every day of [From, To] with the paid and
// pending sums of payments whose collection date falls on it.
func BuildSomitiCollection(payments []PaymentRow, filter Filter) SomitiCollection {
	from, to := schedule.Date(filter.From), schedule.Date(filter.To)
	report := SomitiCollection{SomitiID: filter.SomitiID, From: from, To: to, Days: []DailyRow{}}
	if to.Before(from) {
		return report
	}
	index := map[time.Time]int{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		index[d] = len(report.Days)
		report.Days = append(report.Days, DailyRow{Date: d})
	}
	for _, p := range payments {
		if filter.SomitiID != 0 && p.SomitiID != filter.SomitiID {
			continue
		}
		i, ok := index[schedule.Date(p.CollectionDate)]
		if !ok {
			continue
		}
		row := &report.Days[i]
		switch p.Status {
		case statusPaid:
			row.Paid += p.Amount
			report.TotalPaid += p.Amount
		case statusPending:
			row.Pending += p.Amount
			report.TotalPending += p.Amount
		}
		row.Count++
		report.Count++
	}
	if filter.Desc() {
		for i, j := 0, len(report.Days)-1; i < j; i, j = i+1, j-1 {
			report.Days[i], report.Days[j] = report.Days[j], report.Days[i]
		}
	}
	return report
}

// BuildMemberPayments groups one member's payments in [From, To] (by payment
// date) per somiti.
func BuildMemberPayments(payments []PaymentRow, filter Filter) MemberPayments {
	from, to := schedule.Date(filter.From), schedule.Date(filter.To)
	report := MemberPayments{MemberID: filter.MemberID, From: from, To: to, Rows: []MemberSomitiRow{}}
	index := map[int64]int{}
	for _, p := range payments {
		if p.MemberID != filter.MemberID {
			continue
		}
		d := schedule.Date(p.PaymentDate)
		if d.Before(from) || d.After(to) {
			continue
		}
		i, ok := index[p.SomitiID]
		if !ok {
			i = len(report.Rows)
			index[p.SomitiID] = i
			report.Rows = append(report.Rows, MemberSomitiRow{SomitiID: p.SomitiID, SomitiName: p.SomitiName})
		}
		row := &report.Rows[i]
		row.Total += p.Amount
		row.Count++
		switch p.Status {
		case statusPaid:
			row.Paid += p.Amount
		case statusPending:
			row.Pending += p.Amount
		}
	}
	for _, row := range report.Rows {
		report.Total += row.Total
		report.Paid += row.Paid
		report.Pending += row.Pending
		report.Count += row.Count
	}
	less := func(a, b MemberSomitiRow) bool {
		switch filter.SortField {
		case "total":
			return a.Total < b.Total
		case "pending":
			return a.Pending < b.Pending
		case "count":
			return a.Count < b.Count
		default:
			return a.SomitiName < b.SomitiName
		}
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		if filter.Desc() {
			return less(report.Rows[j], report.Rows[i])
		}
		return less(report.Rows[i], report.Rows[j])
	})
	return report
}

// BuildUpcomingCollections projects the next occasion on or after From for
// each somiti and keeps those within Days.
func BuildUpcomingCollections(somitis []SomitiRow, filter Filter) UpcomingCollections {
	from := schedule.Date(filter.From)
	report := UpcomingCollections{From: from, Days: filter.Days, Rows: []UpcomingRow{}}
	until := from.AddDate(0, 0, filter.Days)
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, s := range somitis {
		if search != "" && !matches(search, s.Name) {
			continue
		}
		next, label, err := schedule.NextCollectionDate(s.Schedule(), from)
		if err != nil || next.After(until) {
			continue
		}
		expected := s.Amount.Mul(s.ActiveMembers)
		report.Rows = append(report.Rows, UpcomingRow{
			SomitiID:           s.ID,
			SomitiName:         s.Name,
			Type:               s.Type,
			NextCollectionDate: next,
			DayLabel:           label,
			ActiveMembers:      s.ActiveMembers,
			ExpectedAmount:     expected,
		})
		report.Expected += expected
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if !a.NextCollectionDate.Equal(b.NextCollectionDate) {
			return a.NextCollectionDate.Before(b.NextCollectionDate)
		}
		return a.SomitiName < b.SomitiName
	})
	return report
}

func matches(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func dateOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
