// Package log implements utility methods for logging in a colorful manner.
package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	isatty "github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var showPid = false

func init() {
	if os.Getenv("GCMA_LOG_SHOW_PID") != "" {
		showPid = true
	}

	color.NoColor = false
}

// FancyLogFormatter is the default logger for gcma.
type FancyLogFormatter struct {
	UseColors bool
}

// IsTerminal tells if `fd` is connected to a terminal.
// Colors only make sense in that case.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var symbolTable = map[logrus.Level]string{
	logrus.DebugLevel: "⚙",
	logrus.InfoLevel:  "⚐",
	logrus.WarnLevel:  "⚠",
	logrus.ErrorLevel: "⚡",
	logrus.FatalLevel: "☣",
	logrus.PanicLevel: "☠",
}

var colorTable = map[logrus.Level]func(string, ...interface{}) string{
	logrus.DebugLevel: color.CyanString,
	logrus.InfoLevel:  color.GreenString,
	logrus.WarnLevel:  color.YellowString,
	logrus.ErrorLevel: color.RedString,
	logrus.FatalLevel: color.MagentaString,
	logrus.PanicLevel: color.MagentaString,
}

func colorByLevel(level logrus.Level, msg string) string {
	fn, ok := colorTable[level]
	if !ok {
		return msg
	}

	return fn("%s", msg)
}

func formatColored(useColors bool, buffer *bytes.Buffer, msg string, level logrus.Level) {
	if useColors {
		buffer.WriteString(colorByLevel(level, msg))
	} else {
		buffer.WriteString(msg)
	}
}

func formatTimestamp(builder *strings.Builder, t time.Time) {
	fmt.Fprintf(builder, "%02d.%02d.%04d", t.Day(), t.Month(), t.Year())
	builder.WriteByte('/')
	fmt.Fprintf(builder, "%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

func formatFields(useColors bool, buffer *bytes.Buffer, entry *logrus.Entry) {
	idx := 0
	buffer.WriteString(" [")

	for key, value := range entry.Data {
		// Make the key colored:
		formatColored(useColors, buffer, key, entry.Level)
		buffer.WriteByte('=')

		switch v := value.(type) {
		case error:
			formatColored(useColors, buffer, v.Error(), logrus.ErrorLevel)
		default:
			buffer.WriteString(fmt.Sprintf("%v", v))
		}

		// Print no space after the last element:
		if idx != len(entry.Data)-1 {
			buffer.WriteByte(' ')
		}

		idx++
	}

	buffer.WriteByte(']')
}

var logSymbols = map[string]struct{}{
	"logrus.Debugf":   {},
	"logrus.Debug":    {},
	"logrus.Infof":    {},
	"logrus.Info":     {},
	"logrus.Warnf":    {},
	"logrus.Warn":     {},
	"logrus.Warningf": {},
	"logrus.Warning":  {},
	"logrus.Errorf":   {},
	"logrus.Error":    {},
	"logrus.Panic":    {},
	"logrus.Panicf":   {},
}

func findCallers() (string, int, bool) {
	// logrus adds a few frames of its own; skip them.
	pcs := make([]uintptr, 15)
	nCallers := runtime.Callers(7, pcs)
	frames := runtime.CallersFrames(pcs[:nCallers])

	nextLineIsCallee := false
	for {
		frame, ok := frames.Next()
		if !ok {
			break
		}

		if nextLineIsCallee {
			// Files inside of gcma are printed relative to the module root.
			modTag := "gcma/"
			modIdx := strings.LastIndex(frame.File, modTag)
			if modIdx == -1 {
				return filepath.Base(frame.File), frame.Line, true
			}

			return frame.File[modIdx+len(modTag):], frame.Line, true
		}

		// Try to get the pure function name (without the module prefix)
		lastIdx := strings.LastIndex(frame.Function, "/")
		if lastIdx == -1 {
			continue
		}

		// Check if this line is a call to the official logrus API.
		// Then, the next line must be the actual line where the log was done.
		_, nextLineIsCallee = logSymbols[frame.Function[lastIdx+1:]]
	}

	return "", 0, false
}

// Format logs a single entry according to our formatting ideas.
func (flf *FancyLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	prefixBuilder := strings.Builder{}
	formatTimestamp(&prefixBuilder, entry.Time)
	prefixBuilder.WriteByte(' ')

	// Add the symbol:
	prefixBuilder.WriteString(symbolTable[entry.Level])

	buffer := &bytes.Buffer{}
	if flf.UseColors {
		buffer.WriteString(colorByLevel(entry.Level, prefixBuilder.String()))
	} else {
		buffer.WriteString(prefixBuilder.String())
	}

	if showPid {
		// Useful when several test processes log to the same terminal.
		buffer.WriteString(fmt.Sprintf(" [%d]", os.Getpid()))
	}

	if file, line, ok := findCallers(); ok {
		buffer.WriteString(fmt.Sprintf(" %s:%d:", file, line))
	}

	buffer.WriteByte(' ')
	buffer.WriteString(entry.Message)

	// Add the fields, if any:
	if len(entry.Data) > 0 {
		formatFields(flf.UseColors, buffer, entry)
	}

	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

var logLevelToFunc = map[logrus.Level]func(args ...interface{}){
	logrus.DebugLevel: logrus.Debug,
	logrus.InfoLevel:  logrus.Info,
	logrus.WarnLevel:  logrus.Warn,
	logrus.ErrorLevel: logrus.Error,
}

// Writer is an io.Writer that writes everything to logrus.
// The command line uses it as error output of the cli app.
type Writer struct {
	// Level determines the severity for all messages.
	Level logrus.Level
}

func (l *Writer) Write(buf []byte) (int, error) {
	fn, ok := logLevelToFunc[l.Level]
	if !ok {
		return 0, fmt.Errorf("log writer: bad level %v", l.Level)
	}

	fn(strings.Trim(string(buf), "\n\r "))
	return len(buf), nil
}

// ParseLevel is like logrus.ParseLevel but also accepts
// the single letter shortcuts of the command line.
func ParseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(name) {
	case "d":
		return logrus.DebugLevel, nil
	case "i":
		return logrus.InfoLevel, nil
	case "w":
		return logrus.WarnLevel, nil
	case "e":
		return logrus.ErrorLevel, nil
	}

	return logrus.ParseLevel(name)
}
