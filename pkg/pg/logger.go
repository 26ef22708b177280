package pg

import (
	"fmt"
	"log/slog"
)

// gooseLogger routes goose output into slog. Fatalf is logged at error
// level instead of exiting; Migrate reports the failure to its caller.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...))
}
