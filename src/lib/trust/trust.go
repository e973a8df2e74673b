package trust

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type MaskLevel int

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
	StatsMask MaskLevel = 0x10
	fatalMask MaskLevel = 0x80
)

// Logger is the subset of this package that a subsystem needs when it wants
// its log messages to go somewhere other than the default output.
type Logger interface {
	Errorf(format string, params ...interface{})
	Warnf(format string, params ...interface{})
	Infof(format string, params ...interface{})
	Debugf(format string, params ...interface{})
	Statsf(category string, format string, params ...interface{})
}

// Log is a masked logger writing to an io.Writer.  The zero value is not
// usable, use New.
type Log struct {
	mu    sync.Mutex
	out   io.Writer
	level MaskLevel
	exit  func(int)
}

// New returns a Log writing to w with the given mask.  The fatal level is
// always on.
func New(w io.Writer, mask MaskLevel) *Log {
	return &Log{out: w, level: (mask & 0x1f) | fatalMask, exit: os.Exit}
}

var std = New(os.Stdout, ErrorMask|WarnMask|InfoMask)

// Default returns the package level logger used by Errorf and friends.
func Default() *Log {
	return std
}

// SetOutput changes where the package level logger writes.  It returns the
// previous writer.
func SetOutput(w io.Writer) io.Writer {
	std.mu.Lock()
	defer std.mu.Unlock()
	old := std.out
	std.out = w
	return old
}

// SetLevel lets you set an error mask directly. You can pass in something like
// ErrorMask | DebugMask to control exactly what gets printed.  It returns the
// previous mask.
func SetLevel(mask MaskLevel) MaskLevel {
	return std.SetLevel(mask)
}

func Level() MaskLevel {
	return std.Level()
}

// Verbosity converts the usual command line -v count into a mask. 0 is
// errors and warnings, 1 adds info, 2 or more adds debug and stats.
func Verbosity(v int) MaskLevel {
	mask := ErrorMask | WarnMask
	if v >= 1 {
		mask |= InfoMask
	}
	if v >= 2 {
		mask |= DebugMask | StatsMask
	}
	return mask
}

func LevelToString() string {
	return std.LevelToString()
}

func (l *Log) SetLevel(mask MaskLevel) MaskLevel {
	if mask&0x1f == 0 {
		l.printf(" WARN: trust.SetLevel is turning off log messages\n")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.level & 0x1f
	l.level = (mask & 0x1f) | fatalMask
	return r
}

func (l *Log) Level() MaskLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Log) LevelToString() string {
	level := l.Level()
	result := ""
	for _, n := range []struct {
		m    MaskLevel
		name string
	}{{ErrorMask, "error"}, {WarnMask, "warn"}, {InfoMask, "info"},
		{DebugMask, "debug"}, {StatsMask, "stats"}} {
		if level&n.m == 0 {
			continue
		}
		if result != "" {
			result += " "
		}
		result += n.name
	}
	return result
}

func (l *Log) printf(format string, params ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, format, params...)
}

func (l *Log) logf(m MaskLevel, prefix string, format string, params ...interface{}) {
	if l.Level()&m == 0 {
		return
	}
	if len(format) == 0 {
		format = "\n"
	} else if format[len(format)-1] != '\n' {
		format += "\n"
	}
	l.printf(prefix+format, params...)
}

//Fatalf prints the given log message (format + params) and then exits with
//the exitCode provided.  Fatalf is not maskable.
func (l *Log) Fatalf(exitCode int, format string, params ...interface{}) {
	l.logf(fatalMask, "FATAL:", format, params...)
	l.exit(exitCode)
}

//Errorf prints the given log message (format + params) using the ErrorMask level.
func (l *Log) Errorf(format string, params ...interface{}) {
	l.logf(ErrorMask, "ERROR:", format, params...)
}

//Warnf prints the given log message (format + params) using the WarnMask level.
func (l *Log) Warnf(format string, params ...interface{}) {
	l.logf(WarnMask, " WARN:", format, params...)
}

//Infof prints the given log message (format + params) using the InfoMask level.
func (l *Log) Infof(format string, params ...interface{}) {
	l.logf(InfoMask, " INFO:", format, params...)
}

//Debugf prints the given log message (format + params) using the DebugMask level.
func (l *Log) Debugf(format string, params ...interface{}) {
	l.logf(DebugMask, "DEBUG:", format, params...)
}

//Statsf prints the given log message (format + params) using the StatsMask level and
//takes an extra parameter that will be visible in the log message as the category
//of stats that is reported.
func (l *Log) Statsf(category string, format string, params ...interface{}) {
	l.logf(StatsMask, "STATS["+category+"]:", format, params...)
}

func Fatalf(exitCode int, format string, params ...interface{}) {
	std.Fatalf(exitCode, format, params...)
}

func Errorf(format string, params ...interface{}) {
	std.Errorf(format, params...)
}

func Warnf(format string, params ...interface{}) {
	std.Warnf(format, params...)
}

func Infof(format string, params ...interface{}) {
	std.Infof(format, params...)
}

func Debugf(format string, params ...interface{}) {
	std.Debugf(format, params...)
}

func Statsf(category string, format string, params ...interface{}) {
	std.Statsf(category, format, params...)
}
