package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var broadcastCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

func nextCronRunUTC(expr string, now time.Time) (time.Time, error) {
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.UTC()), nil
}

func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("broadcast schedule needs a cron expression")
	}

	// Broadcast schedules are stored and evaluated in UTC; timezone
	// prefixes would make next_run_at ambiguous across restarts.
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("broadcast schedules run in UTC; timezone prefixes are not allowed")
	}

	schedule, err := broadcastCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid broadcast cron expression: %w", err)
	}
	return schedule, nil
}
