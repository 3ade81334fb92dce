package billing

import "time"

// Default billing anchor: the 2nd of every month at 10:00 KST.
const (
	DefaultAnchorDay  = 2
	DefaultAnchorHour = 10
)

// PeriodAnchor is the fixed day/hour/timezone boundary at which a billing
// period closes.
type PeriodAnchor struct {
	Day      int
	Hour     int
	Location *time.Location
}

// NewPeriodAnchor creates an anchor, falling back to defaults for
// out-of-range values. A nil location defaults to UTC.
func NewPeriodAnchor(day, hour int, loc *time.Location) PeriodAnchor {
	if day < 1 || day > 28 {
		day = DefaultAnchorDay
	}
	if hour < 0 || hour > 23 {
		hour = DefaultAnchorHour
	}
	if loc == nil {
		loc = time.UTC
	}
	return PeriodAnchor{Day: day, Hour: hour, Location: loc}
}

// BillingPeriod is a half-open window [Start, End) labeled with the
// (year, month) of its start month. The label names the month whose uploads
// are billed, not the settlement date.
type BillingPeriod struct {
	Year  int
	Month int
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window. The end boundary is
// exclusive: an upload at exactly End belongs to the next period.
func (p BillingPeriod) Contains(ts time.Time) bool {
	return !ts.Before(p.Start) && ts.Before(p.End)
}

// ResolvePeriod maps now to the most recently closed billing window.
//
// The window ends at the latest anchor instant that has already occurred
// (the anchor instant itself counts as occurred) and starts one minute past
// the anchor instant of the preceding month. Example with the default
// anchor: now = 2025-12-02 09:59 KST resolves to (2025, 10) with
// start = 2025-10-02 10:01 and end = 2025-11-02 10:00, while
// now = 2025-12-02 10:00 KST resolves to (2025, 11) ending at that instant.
func ResolvePeriod(now time.Time, anchor PeriodAnchor) BillingPeriod {
	local := now.In(anchor.Location)

	end := time.Date(local.Year(), local.Month(), anchor.Day, anchor.Hour, 0, 0, 0, anchor.Location)
	if local.Before(end) {
		end = time.Date(local.Year(), local.Month()-1, anchor.Day, anchor.Hour, 0, 0, 0, anchor.Location)
	}

	start := time.Date(end.Year(), end.Month()-1, anchor.Day, anchor.Hour, 1, 0, 0, anchor.Location)

	return BillingPeriod{
		Year:  start.Year(),
		Month: int(start.Month()),
		Start: start,
		End:   end,
	}
}

// CurrentPeriodLabel returns the (year, month) a live upload at now is
// attributed to. Interactive usage deltas accumulate under the calendar
// month of the upload; the batch recomputation later settles the same label
// from the resolved window.
func CurrentPeriodLabel(now time.Time, anchor PeriodAnchor) (year, month int) {
	local := now.In(anchor.Location)
	return local.Year(), int(local.Month())
}
