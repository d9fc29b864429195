package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week).
type CronSchedule struct {
	Minute [60]bool
	Hour   [24]bool
	Dom    [32]bool
	Month  [13]bool
	Dow    [7]bool

	// domStar/dowStar track whether the field was '*': standard cron ORs
	// day-of-month and day-of-week only when both are restricted.
	domStar bool
	dowStar bool
}

type cronField struct {
	name string
	min  int
	max  int
}

var cronFields = []cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron validates and compiles a five-field cron expression. Grammar
// per field: '*', an integer, 'a-b' ranges, '*/n' steps, 'a-b/n', and
// comma-separated lists of any of those.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	sets := make([][]bool, 5)
	for i, field := range fields {
		spec := cronFields[i]
		set := make([]bool, spec.max+1)
		if err := parseCronField(field, spec, set); err != nil {
			return nil, err
		}
		sets[i] = set
	}

	s := &CronSchedule{
		domStar: fields[2] == "*",
		dowStar: fields[4] == "*",
	}
	copy(s.Minute[:], sets[0])
	copy(s.Hour[:], sets[1])
	copy(s.Dom[:], sets[2])
	copy(s.Month[:], sets[3])
	copy(s.Dow[:], sets[4])
	return s, nil
}

func parseCronField(field string, spec cronField, set []bool) error {
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return fmt.Errorf("%s field has an empty list element", spec.name)
		}

		step := 1
		if slash := strings.IndexByte(part, '/'); slash >= 0 {
			stepStr := part[slash+1:]
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				return fmt.Errorf("%s field has invalid step %q", spec.name, stepStr)
			}
			step = n
			part = part[:slash]
		}

		lo, hi := spec.min, spec.max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil {
				return fmt.Errorf("%s field has invalid range %q", spec.name, part)
			}
			if a > b {
				return fmt.Errorf("%s field range %q is reversed", spec.name, part)
			}
			lo, hi = a, b
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return fmt.Errorf("%s field has invalid value %q", spec.name, part)
			}
			if step != 1 {
				return fmt.Errorf("%s field cannot apply step to single value %q", spec.name, part)
			}
			lo, hi = n, n
		}

		if lo < spec.min || hi > spec.max {
			return fmt.Errorf("%s field value out of range %d-%d", spec.name, spec.min, spec.max)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return nil
}

// Next returns the first instant strictly after t matching the schedule.
// Gives up after four years, which only a contradictory day/month pair
// can reach.
func (s *CronSchedule) Next(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.Month[int(t.Month())] {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !s.Hour[t.Hour()] {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if !s.Minute[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// dayMatches applies the standard cron rule: when both day fields are
// restricted the match is an OR, otherwise the restricted one decides.
func (s *CronSchedule) dayMatches(t time.Time) bool {
	domOK := s.Dom[t.Day()]
	dowOK := s.Dow[int(t.Weekday())]
	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dowOK
	case s.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}
