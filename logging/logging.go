package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

var debugEnabled atomic.Bool

// Options controls where the process log goes.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Setup tees the standard logger to stdout and a size-rotated file. The
// returned closer releases the file; it is nil when no file is configured.
func Setup(opts Options) io.Closer {
	SetLevel(opts.Level)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 2
	}

	rw := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw
}

func SetLevel(level string) {
	debugEnabled.Store(strings.EqualFold(strings.TrimSpace(level), "debug"))
}

func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs only when the level is debug.
func Debugf(format string, args ...any) {
	if !debugEnabled.Load() {
		return
	}
	log.Output(2, "[debug] "+fmt.Sprintf(format, args...))
}
