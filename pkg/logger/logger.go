package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// ANSI color codes, kept for Banner/Section which print straight to stdout
// rather than through logrus.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[37m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

// Log levels, kept numeric and in this order for SetLevel callers that
// still think in the old five-level scheme; Success maps onto logrus' Info.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSuccess
)

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the minimum log level.
func SetLevel(level int) {
	switch level {
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError:
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// ShowTime enables or disables timestamps on emitted log lines.
func ShowTime(show bool) {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: show, TimestampFormat: "15:04:05", DisableTimestamp: !show})
}

// Debug logs a debug-level message.
func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }

// Info logs an info-level message.
func Info(format string, args ...interface{}) { base.Infof(format, args...) }

// Warn logs a warn-level message.
func Warn(format string, args ...interface{}) { base.Warnf(format, args...) }

// Error logs an error-level message.
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }

// Success logs a notable positive event at info level, tagged so it reads
// distinctly from routine Info lines in aggregated log output.
func Success(format string, args ...interface{}) {
	base.WithField("outcome", "success").Infof(format, args...)
}

// Fatal logs an error-level message and exits the process.
func Fatal(format string, args ...interface{}) {
	base.Errorf(format, args...)
	os.Exit(1)
}

// InfoCyan logs an info-level message tagged for a highlighted rendering by
// log shippers that colorize on fields rather than ANSI codes.
func InfoCyan(format string, args ...interface{}) {
	base.WithField("highlight", true).Infof(format, args...)
}

// WithField starts a structured log entry, for call sites that want to
// attach a correlation id (spec §10.1, rs/xid) or other key/value context.
func WithField(key string, value interface{}) *logrus.Entry {
	return base.WithField(key, value)
}

// Section prints a section header straight to stdout, outside the logrus
// pipeline — purely a human-readable CLI banner, never structured output.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", ColorCyan, ColorReset, title, ColorCyan, ColorReset)
	fmt.Printf("%s╚%s╝%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application banner.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ███╗   ███╗███████╗███████╗██╗  ██╗                    ║
║   ████╗ ████║██╔════╝██╔════╝██║  ██║                    ║
║   ██╔████╔██║█████╗  ███████╗███████║                    ║
║   ██║╚██╔╝██║██╔══╝  ╚════██║██╔══██║                    ║
║   ██║ ╚═╝ ██║███████╗███████║██║  ██║                    ║
║   ╚═╝     ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝                    ║
║                                                           ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, ColorCyan, title, ColorReset, ColorGreen, version, ColorReset)
}
