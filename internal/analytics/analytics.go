package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"webook-bot/internal/ledger"
)

// DailyStats summarises the bookings made on one day.
type DailyStats struct {
	Date          string `json:"date"`
	TotalBookings int    `json:"total_bookings"`
	UniqueUsers   int    `json:"unique_users"`
	TotalTickets  int    `json:"total_tickets"`

	// Bookings whose ticket count is not a plain number.
	UncountedTickets int            `json:"uncounted_tickets"`
	ByEvent          map[string]int `json:"by_event"`
}

// EventCount is one line of the per-event breakdown.
type EventCount struct {
	Title    string
	Bookings int
}

// AnalyzeDailyBookings counts the records created on targetDate, in
// targetDate's location.
func AnalyzeDailyBookings(records []ledger.Record, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:    startOfDay.Format("2006-01-02"),
		ByEvent: make(map[string]int),
	}
	users := make(map[string]bool)

	for _, rec := range records {
		if rec.CreatedAt.Before(startOfDay) || !rec.CreatedAt.Before(endOfDay) {
			continue
		}
		stats.TotalBookings++
		users[rec.UserName] = true
		stats.ByEvent[rec.EventTitle]++

		if n, err := strconv.Atoi(strings.TrimSpace(rec.Tickets)); err == nil && n > 0 {
			stats.TotalTickets += n
		} else {
			stats.UncountedTickets++
		}
	}

	stats.UniqueUsers = len(users)
	return stats
}

// TopEvents returns the per-event breakdown, most booked first.
func (ds *DailyStats) TopEvents() []EventCount {
	out := make([]EventCount, 0, len(ds.ByEvent))
	for title, n := range ds.ByEvent {
		out = append(out, EventCount{Title: title, Bookings: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bookings != out[j].Bookings {
			return out[i].Bookings > out[j].Bookings
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// GenerateReportSummary renders the admin's daily report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 تقرير الحجوزات ليوم %s\n\n", ds.Date)
	fmt.Fprintf(&b, "عدد الحجوزات: %d\n", ds.TotalBookings)
	fmt.Fprintf(&b, "عدد المستخدمين: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "عدد التذاكر: %d\n", ds.TotalTickets)
	if ds.UncountedTickets > 0 {
		fmt.Fprintf(&b, "حجوزات بعدد تذاكر غير رقمي: %d\n", ds.UncountedTickets)
	}

	if top := ds.TopEvents(); len(top) > 0 {
		b.WriteString("\nالفعاليات:\n")
		for _, e := range top {
			fmt.Fprintf(&b, "• %s: %d\n", e.Title, e.Bookings)
		}
	}
	return b.String()
}

// ToJSON renders the stats as compact JSON for structured logs.
func (ds *DailyStats) ToJSON() ([]byte, error) {
	return json.Marshal(ds)
}
