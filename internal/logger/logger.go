package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Log levels
const (
	LevelError = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

var (
	Info    *log.Logger
	Debug   *log.Logger
	Warning *log.Logger
	Error   *log.Logger

	// LogLevel controls which messages are written.
	LogLevel = LevelWarning

	mu        sync.Mutex
	out       io.Writer = os.Stderr
	useColors           = true
)

// Initialize points every logger at w. A nil writer means stderr, which
// keeps stdout free for reports.
func Initialize(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	out = w
	build()
}

func build() {
	prefix := func(label string, attr color.Attribute) string {
		if !useColors {
			return label + ": "
		}
		c := color.New(attr)
		c.EnableColor()
		return c.Sprint(label+":") + " "
	}

	flags := log.Ldate | log.Ltime
	Info = log.New(out, prefix("INFO", color.FgBlue), flags)
	Debug = log.New(out, prefix("DEBUG", color.FgMagenta), flags|log.Lshortfile)
	Warning = log.New(out, prefix("WARNING", color.FgYellow), flags)
	Error = log.New(out, prefix("ERROR", color.FgRed), flags)
}

// EnableColors enables colored prefixes.
func EnableColors() {
	mu.Lock()
	defer mu.Unlock()
	useColors = true
	build()
}

// DisableColors disables colored prefixes.
func DisableColors() {
	mu.Lock()
	defer mu.Unlock()
	useColors = false
	build()
}

// SetLevel sets the logging level. Out of range levels are ignored.
func SetLevel(level int) {
	if level >= LevelError && level <= LevelDebug {
		LogLevel = level
	}
}

func Infof(format string, v ...interface{}) {
	if LogLevel >= LevelInfo {
		Info.Output(2, fmt.Sprintf(format, v...))
	}
}

func Debugf(format string, v ...interface{}) {
	if LogLevel >= LevelDebug {
		Debug.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warningf(format string, v ...interface{}) {
	if LogLevel >= LevelWarning {
		Warning.Output(2, fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...interface{}) {
	if LogLevel >= LevelError {
		Error.Output(2, fmt.Sprintf(format, v...))
	}
}

func init() {
	Initialize(nil)
}
