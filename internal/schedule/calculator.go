package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextGenerateDate returns the date the next invoice of rule is generated,
// counted from now. Dates are midnight in now's location.
func NextGenerateDate(now time.Time, rule Rule) time.Time {
	today := startOfDay(now)
	var target time.Time
	switch rule.Frequency {
	case FrequencyMonthly:
		dom := rule.dayOfMonth()
		y, m, _ := today.Date()
		target = time.Date(y, m, dom, 0, 0, 0, 0, today.Location())
		if !target.After(today) {
			target = time.Date(y, m+1, dom, 0, 0, 0, 0, today.Location())
		}
	case FrequencyWeekly:
		target = nextWeekday(today, rule.dayOfWeek())
	case FrequencyBiweekly:
		target = today.AddDate(0, 0, 14)
	case FrequencyQuarterly:
		y, m, _ := today.Date()
		target = time.Date(y, m+3, 1, 0, 0, 0, 0, today.Location())
	default:
		target = today.AddDate(0, 0, 30)
	}
	return target.AddDate(0, 0, -rule.GenerateDaysBefore)
}

// nextWeekday returns the first midnight on dow strictly after today.
func nextWeekday(today time.Time, dow int) time.Time {
	sched, err := cron.ParseStandard(fmt.Sprintf("0 0 * * %d", dow))
	if err != nil {
		return today.AddDate(0, 0, 7)
	}
	return sched.Next(today)
}

// NextAfterRun returns the next generation date after a run at now. When
// generateDaysBefore pulls the date back to today or earlier, the following
// period is used so a schedule never stays due after generating.
func NextAfterRun(now time.Time, rule Rule) time.Time {
	next := NextGenerateDate(now, rule)
	if next.After(startOfDay(now)) {
		return next
	}
	return NextGenerateDate(now.AddDate(0, 0, rule.GenerateDaysBefore), rule)
}
