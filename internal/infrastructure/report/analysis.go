package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"PageHarvester/internal/domain"
)

const (
	DefaultDatetimeColumn = "Fulfilled"
	DefaultPrepColumn     = "Prep Time"
	DefaultItemsColumn    = "Items Quantity"
)

// DefaultDatetimeFormats are tried in order when a job lists none.
var DefaultDatetimeFormats = []string{
	"01/02/2006, 03:04:05 PM",
	"1/2/2006, 3:04:05 PM",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
}

// HourStat aggregates the orders fulfilled within one clock hour.
type HourStat struct {
	Hour    int
	AvgPrep float64
	Orders  int
	Items   int
}

// Label renders the hour as a 12-hour range, e.g. "11:00 AM - 12:00 PM".
func (h HourStat) Label() string {
	return clock12(h.Hour) + " - " + clock12((h.Hour+1)%24)
}

func clock12(hour int) string {
	h := hour % 12
	if h == 0 {
		h = 12
	}
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	return fmt.Sprintf("%d:00 %s", h, suffix)
}

// Analysis is the per-hour summary of one report.
type Analysis struct {
	Date      string
	ValidRows int
	Hours     []HourStat
}

// Over returns the hours whose average prep time exceeds threshold minutes.
func (a Analysis) Over(threshold float64) []HourStat {
	var out []HourStat
	for _, h := range a.Hours {
		if h.AvgPrep > threshold {
			out = append(out, h)
		}
	}
	return out
}

var numberExpr = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Analyze groups rows by the hour of the datetime column. Rows without a
// parseable time or prep value are ignored.
func Analyze(t Table, cfg domain.CSVConfig) (Analysis, error) {
	names := [3]string{
		orDefault(cfg.DatetimeColumn, DefaultDatetimeColumn),
		orDefault(cfg.PrepTimeColumn, DefaultPrepColumn),
		orDefault(cfg.ItemsColumn, DefaultItemsColumn),
	}
	var idx [3]int
	var missing []string
	for i, n := range names {
		idx[i] = t.Column(n)
		if idx[i] < 0 {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return Analysis{}, domain.NewError(domain.KindConfig,
			"report is missing columns: "+strings.Join(missing, ", "), nil)
	}
	formats := cfg.DatetimeFormats
	if len(formats) == 0 {
		formats = DefaultDatetimeFormats
	}

	type acc struct {
		prepSum float64
		orders  int
		items   int
	}
	byHour := map[int]*acc{}
	var first time.Time
	var valid int

	for _, row := range t.Rows {
		at, ok := parseTime(cell(row, idx[0]), formats)
		if !ok {
			continue
		}
		prep, ok := firstNumber(cell(row, idx[1]))
		if !ok {
			continue
		}
		valid++
		if first.IsZero() || at.Before(first) {
			first = at
		}
		a := byHour[at.Hour()]
		if a == nil {
			a = &acc{}
			byHour[at.Hour()] = a
		}
		a.prepSum += prep
		a.orders++
		a.items += itemCount(cell(row, idx[2]))
	}

	out := Analysis{ValidRows: valid}
	if valid == 0 {
		return out, nil
	}
	out.Date = first.Format("Jan 02, 2006")
	for hour, a := range byHour {
		out.Hours = append(out.Hours, HourStat{
			Hour:    hour,
			AvgPrep: a.prepSum / float64(a.orders),
			Orders:  a.orders,
			Items:   a.items,
		})
	}
	sort.Slice(out.Hours, func(i, j int) bool { return out.Hours[i].Hour < out.Hours[j].Hour })
	return out, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseTime(s string, formats []string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, f := range formats {
		if t, err := time.ParseInLocation(f, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstNumber(s string) (float64, bool) {
	m := numberExpr.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

func itemCount(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if v, ok := firstNumber(s); ok {
		return int(v)
	}
	return 0
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
