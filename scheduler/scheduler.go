package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// dayCodes maps human-readable day names to cron day-of-week values.
var dayCodes = map[string]time.Weekday{
	"周一": time.Monday, "周二": time.Tuesday, "周三": time.Wednesday, "周四": time.Thursday,
	"周五": time.Friday, "周六": time.Saturday, "周日": time.Sunday, "周天": time.Sunday,
	"一": time.Monday, "二": time.Tuesday, "三": time.Wednesday, "四": time.Thursday,
	"五": time.Friday, "六": time.Saturday, "日": time.Sunday, "天": time.Sunday,
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday, "thu": time.Thursday,
	"fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday,
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

// Weekly is a day-of-week plus time-of-day trigger.
type Weekly struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

// ParseWeekly parses a "day HH:MM" string such as "周一 09:00" or "fri 18:30".
// Unknown day names fall back to Monday.
func ParseWeekly(value string) (Weekly, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return Weekly{}, errors.New("expected \"day HH:MM\"")
	}
	day, ok := dayCodes[strings.ToLower(parts[0])]
	if !ok {
		day = time.Monday
	}
	hour, minute, err := parseClock(parts[1])
	if err != nil {
		return Weekly{}, err
	}
	return Weekly{Day: day, Hour: hour, Minute: minute}, nil
}

// Spec renders the cron expression for the trigger.
func (w Weekly) Spec() string {
	return fmt.Sprintf("%d %d * * %d", w.Minute, w.Hour, int(w.Day))
}

func (w Weekly) String() string {
	return fmt.Sprintf("%s %02d:%02d", strings.ToLower(w.Day.String()[:3]), w.Hour, w.Minute)
}

func parseClock(value string) (int, int, error) {
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, errors.New("invalid time format")
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute: %w", err)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, errors.New("hour out of range")
	}
	if minute < 0 || minute > 59 {
		return 0, 0, errors.New("minute out of range")
	}
	return hour, minute, nil
}

// Scheduler triggers a weekly job at a configured time.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	jobID    cron.EntryID
	location *time.Location
	job      func()
}

// New creates a scheduler for the given "day HH:MM" value and timezone.
func New(summaryTime, timezone string, job func()) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	weekly, err := ParseWeekly(summaryTime)
	if err != nil {
		return nil, err
	}

	c := cron.New(cron.WithLocation(loc))
	s := &Scheduler{cron: c, location: loc, job: job}
	if err := s.schedule(weekly); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins cron execution.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// UpdateTime changes the weekly trigger.
func (s *Scheduler) UpdateTime(summaryTime string) error {
	weekly, err := ParseWeekly(summaryTime)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobID != 0 {
		s.cron.Remove(s.jobID)
	}
	return s.schedule(weekly)
}

// Next returns the next activation time.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.jobID
	s.mu.Unlock()
	entry := s.cron.Entry(id)
	if !entry.Next.IsZero() {
		return entry.Next
	}
	if entry.Schedule != nil {
		return entry.Schedule.Next(time.Now().In(s.location))
	}
	return time.Time{}
}

func (s *Scheduler) schedule(weekly Weekly) error {
	id, err := s.cron.AddFunc(weekly.Spec(), s.job)
	if err != nil {
		return fmt.Errorf("add cron: %w", err)
	}
	s.jobID = id
	return nil
}
