package ldap

import (
	"fmt"
	"regexp"
	"strconv"
)

// scheduleRegex matches "HHMM-HHMM D..." with days 0 (Sunday) to 6.
var scheduleRegex = regexp.MustCompile(`^\d{4}-\d{4} [0-6]{1,7}$`)

// Schedule is a parsed nsds5replicaupdateschedule value.
type Schedule struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
	Days                   []int
}

// ValidateSchedule returns an error wrapping ErrInvalidSchedule when s is not
// a usable update schedule. The empty schedule (ScheduleAlways) is valid.
func ValidateSchedule(s string) error {
	if s == ScheduleAlways {
		return nil
	}
	_, err := ParseSchedule(s)
	return err
}

// ParseSchedule parses "HHMM-HHMM D...". Beyond the pattern, hours must be
// at most 23, minutes at most 59, start must not be after end, and each day
// may appear only once.
func ParseSchedule(s string) (*Schedule, error) {
	if !scheduleRegex.MatchString(s) {
		return nil, fmt.Errorf("%w: %q does not match HHMM-HHMM DAYS", ErrInvalidSchedule, s)
	}

	sched := &Schedule{}
	var err error
	if sched.StartHour, sched.StartMinute, err = parseScheduleTime(s[0:4]); err != nil {
		return nil, fmt.Errorf("%w: %q: start %v", ErrInvalidSchedule, s, err)
	}
	if sched.EndHour, sched.EndMinute, err = parseScheduleTime(s[5:9]); err != nil {
		return nil, fmt.Errorf("%w: %q: end %v", ErrInvalidSchedule, s, err)
	}
	if s[0:4] > s[5:9] {
		return nil, fmt.Errorf("%w: %q: start %s is after end %s", ErrInvalidSchedule, s, s[0:4], s[5:9])
	}

	var seen [7]bool
	for _, c := range s[10:] {
		day := int(c - '0')
		if seen[day] {
			return nil, fmt.Errorf("%w: %q: day %d repeated", ErrInvalidSchedule, s, day)
		}
		seen[day] = true
		sched.Days = append(sched.Days, day)
	}

	return sched, nil
}

func parseScheduleTime(hhmm string) (int, int, error) {
	hour, _ := strconv.Atoi(hhmm[0:2])
	minute, _ := strconv.Atoi(hhmm[2:4])
	if hour > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range", hour)
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range", minute)
	}
	return hour, minute, nil
}

// String renders the schedule in nsds5replicaupdateschedule form.
func (s *Schedule) String() string {
	days := make([]byte, 0, len(s.Days))
	for _, d := range s.Days {
		days = append(days, byte('0'+d))
	}
	return fmt.Sprintf("%02d%02d-%02d%02d %s", s.StartHour, s.StartMinute, s.EndHour, s.EndMinute, days)
}
