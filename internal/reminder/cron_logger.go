package reminder

import (
	"fmt"

	"worksrelay/internal/eventbus"
	logx "worksrelay/pkg/logx"
)

// cronLogger routes robfig/cron's logr-style calls to logx.
// The "skip" message from SkipIfStillRunning is also published as an event.
type cronLogger struct {
	log logx.Logger
	bus eventbus.Bus
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		eventbus.Emit(l.bus, eventbus.TypeReminderSkipped, nil)
		l.log.Info("reminder skipped: previous run still in progress")
		return
	}
	l.log.Debug("cron "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
