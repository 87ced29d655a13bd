package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging sends logs to stderr and, when file is set, to a rotating
// log file as well. stdout stays free for command output.
func setupLogging(stderr io.Writer, level, file string) (io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	console := zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	if file == "" {
		log.Logger = log.Output(console)
		return nil, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, rotator))
	return rotator, nil
}
