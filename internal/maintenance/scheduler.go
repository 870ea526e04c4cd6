package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"medvoll-identity/internal/observability"
)

const DefaultSchedule = "*/15 * * * *"

// Scheduler runs the cleaner on a cron schedule inside a long-lived
// process. Serverless deployments use the HTTP handler instead.
type Scheduler struct {
	cron     *cron.Cron
	cleaner  *Cleaner
	logger   *observability.Logger
	schedule string
	timeout  time.Duration
}

func NewScheduler(cleaner *Cleaner, logger *observability.Logger, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger}), cron.SkipIfStillRunning(cronLogger{logger: logger})))

	return &Scheduler{
		cron:     c,
		cleaner:  cleaner,
		logger:   logger,
		schedule: schedule,
		timeout:  time.Minute,
	}
}

// Start registers the cleanup job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("schedule identity cleanup %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled_identity_cleanup", map[string]any{"schedule": s.schedule})

	s.cron.Start()
	return nil
}

// Stop stops scheduling and returns a context done once running jobs end.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.cleaner.Run(ctx)
	if err != nil {
		observability.CaptureError(err, map[string]string{"job": "identity_cleanup"})
		s.logger.Error("identity_cleanup_failed", map[string]any{"error": err.Error(), "trigger": "cron"})
		return
	}
	s.logger.Info("identity_cleanup_completed", map[string]any{
		"deleted_sessions": result.DeletedSessions,
		"cleared_lockouts": result.ClearedLockouts,
		"trigger":          "cron",
	})
}

// cronLogger adapts the JSON logger to cron.Logger.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info("cron_"+msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	l.logger.Error("cron_"+msg, fields)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
