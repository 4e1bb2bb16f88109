package cli

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// recurringIntervals enumerates the fixed interval choices the recurring
// runner accepts.
var recurringIntervals = map[string]string{
	"5m":  "@every 5m",
	"15m": "@every 15m",
	"30m": "@every 30m",
	"1h":  "@every 1h",
	"1d":  "@every 24h",
}

// intervalParser adds the Descriptor field to the standard five-field cron
// parser so "@every" specs parse, since this runner schedules fixed
// intervals rather than calendar-based cron triggers.
var intervalParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// parseInterval validates name against recurringIntervals and returns the
// parsed cron.Schedule driving the recurring runner's wait loop.
func parseInterval(name string) (cron.Schedule, error) {
	spec, ok := recurringIntervals[name]
	if !ok {
		return nil, fmt.Errorf("invalid --interval %q (want one of 5m, 15m, 30m, 1h, 1d)", name)
	}
	schedule, err := intervalParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing interval schedule: %w", err)
	}
	return schedule, nil
}

// nextRun returns the next scheduled time strictly after now.
func nextRun(schedule cron.Schedule, now time.Time) time.Time {
	return schedule.Next(now.UTC())
}
