package media

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/1ureka/peerlink/internal/util"
)

// loggerFactory routes pion's internal logging into the process logger.
// Pion is chatty at info level, so its info lines are demoted to debug.
type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{prefix: "[PION:" + scope + "] "}
}

type scopedLogger struct {
	prefix string
}

func (l *scopedLogger) Trace(msg string) { util.LogTrace("%s%s", l.prefix, msg) }
func (l *scopedLogger) Debug(msg string) { util.LogTrace("%s%s", l.prefix, msg) }
func (l *scopedLogger) Info(msg string)  { util.LogDebug("%s%s", l.prefix, msg) }
func (l *scopedLogger) Warn(msg string)  { util.LogWarning("%s%s", l.prefix, msg) }
func (l *scopedLogger) Error(msg string) { util.LogError("%s%s", l.prefix, msg) }

func (l *scopedLogger) Tracef(format string, args ...any) { l.Trace(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }
