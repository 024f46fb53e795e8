package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLoggerFactory routes pion's internal logging through the global
// zerolog logger so transport noise shares a sink with the engine.
func NewLoggerFactory() logging.LoggerFactory {
	return zerologFactory{}
}

type zerologFactory struct{}

func (zerologFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{l: log.With().Str("module", "rtc."+scope).Logger()}
}

type leveledLogger struct {
	l zerolog.Logger
}

func (z *leveledLogger) Trace(msg string) { z.l.Trace().Msg(msg) }
func (z *leveledLogger) Tracef(format string, args ...any) {
	z.l.Trace().Msg(fmt.Sprintf(format, args...))
}

func (z *leveledLogger) Debug(msg string) { z.l.Debug().Msg(msg) }
func (z *leveledLogger) Debugf(format string, args ...any) {
	z.l.Debug().Msg(fmt.Sprintf(format, args...))
}

func (z *leveledLogger) Info(msg string) { z.l.Info().Msg(msg) }
func (z *leveledLogger) Infof(format string, args ...any) {
	z.l.Info().Msg(fmt.Sprintf(format, args...))
}

func (z *leveledLogger) Warn(msg string) { z.l.Warn().Msg(msg) }
func (z *leveledLogger) Warnf(format string, args ...any) {
	z.l.Warn().Msg(fmt.Sprintf(format, args...))
}

func (z *leveledLogger) Error(msg string) { z.l.Error().Msg(msg) }
func (z *leveledLogger) Errorf(format string, args ...any) {
	z.l.Error().Msg(fmt.Sprintf(format, args...))
}
