package adapt

import (
	"time"

	"care-reminders/internal/reminder"
)

// group holds the hours observed for one reminder, in input order.
type group struct {
	key       reminder.Key
	hours     []int
	malformed int
}

// groupOccurrences partitions occurrences by reminder key in a single pass.
// Groups come back in the order their first occurrence was seen. Occurrences
// without an actual time are counted but contribute no hour.
func groupOccurrences(occurrences []*reminder.Occurrence, loc *time.Location) []*group {
	index := make(map[reminder.Key]*group)
	var groups []*group
	for _, o := range occurrences {
		key := o.Key()
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		if o.ActualTime == nil || o.ActualTime.IsZero() {
			g.malformed++
			continue
		}
		g.hours = append(g.hours, o.ActualTime.In(loc).Hour())
	}
	return groups
}

// ModeHour returns the most frequent hour in hours. When several hours share
// the highest count, the one that appeared first in hours wins. ok is false
// for an empty slice.
func ModeHour(hours []int) (hour int, ok bool) {
	var counts [24]int
	var order []int
	for _, h := range hours {
		if h < 0 || h > 23 {
			continue
		}
		if counts[h] == 0 {
			order = append(order, h)
		}
		counts[h]++
	}
	best := 0
	for _, h := range order {
		if counts[h] > best {
			best = counts[h]
			hour = h
		}
	}
	return hour, best > 0
}

// NextScheduledTime returns today's date in loc with the clock set to hour:00:00.
func NextScheduledTime(now time.Time, hour int, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), hour, 0, 0, 0, loc)
}
