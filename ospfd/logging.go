package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/term"

	"github.com/davidbalbert/ospfsync/events"
)

// newLogger logs to stderr, in color when stderr is a terminal, and also
// to logFile if it is set. With simTime, wall clock timestamps are left
// out because only scheduler time is meaningful.
func newLogger(level slog.Leveler, logFile string, simTime bool) (*slog.Logger, func() error, error) {
	replace := func(groups []string, attr slog.Attr) slog.Attr {
		if simTime && len(groups) == 0 && attr.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return attr
	}

	handlers := make([]slog.Handler, 0, 2)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		handlers = append(handlers, tint.NewHandler(os.Stderr, &tint.Options{
			Level:       level,
			TimeFormat:  "15:04:05.000",
			ReplaceAttr: replace,
		}))
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replace,
		}))
	}

	closer := func() error { return nil }

	if logFile != "" {
		err := os.MkdirAll(filepath.Dir(logFile), 0o700)
		if err != nil {
			return nil, nil, err
		}

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
		if err != nil {
			return nil, nil, err
		}

		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level, ReplaceAttr: replace}))
		closer = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// eventLogger writes router events to a logger.
type eventLogger struct {
	log *slog.Logger
}

func (l *eventLogger) SendEvent(e events.Event) {
	l.log.Info(string(e.Type), "at", e.At, "event", e.Data)
}
