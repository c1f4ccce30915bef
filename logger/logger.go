// Package logger sets up the zerolog logger of the service and adapts it to
// the printf style Logger the auth packages accept.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Setup returns the service logger. Debug mode lowers the level and writes
// human readable lines.
func Setup(debug bool) zerolog.Logger {
	return setup(os.Stderr, debug)
}

func setup(out io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if debug {
		log = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(level).With().Caller().Logger()
	}
	return log
}

// Printf adapts a zerolog.Logger to Debug/Info/Error methods taking a
// format string.
type Printf struct {
	log zerolog.Logger
}

// NewPrintf wraps log. The component name lands in every line.
func NewPrintf(log zerolog.Logger, component string) Printf {
	if component != "" {
		log = log.With().Str("component", component).Logger()
	}
	return Printf{log: log}
}

func (p Printf) Debug(format string, args ...any) {
	p.log.Debug().Msg(fmt.Sprintf(format, args...))
}

func (p Printf) Info(format string, args ...any) {
	p.log.Info().Msg(fmt.Sprintf(format, args...))
}

func (p Printf) Error(format string, args ...any) {
	p.log.Error().Msg(fmt.Sprintf(format, args...))
}

// Requests logs one line per request with its status and duration. The
// request logger is attached to the user context so handlers can use
// zerolog.Ctx.
func Requests(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()

		reqLog := log.With().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Logger()
		c.SetUserContext(reqLog.WithContext(c.UserContext()))

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		event := reqLog.Info()
		switch {
		case err != nil && status >= fiber.StatusInternalServerError:
			event = reqLog.Error().Err(err)
		case status >= fiber.StatusBadRequest:
			event = reqLog.Warn()
		}
		event.Int("status", status).
			Dur("duration", time.Since(started)).
			Msg("request")

		return err
	}
}
