package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewJobLogger returns a logger writing to stderr and to a dated per-job log
// file (<job>_YYYYMMDD.log, appended across runs on the same day). The caller
// must invoke the returned closer when the run ends.
func NewJobLogger(job string) (zerolog.Logger, func(), error) {
	name := fmt.Sprintf("%s_%s.log", job, time.Now().Format("20060102"))
	file, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file %s: %w", name, err)
	}

	writer := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		file,
	)
	logger := zerolog.New(writer).With().Timestamp().Str("job", job).Logger()

	closer := func() {
		_ = file.Close()
	}
	return logger, closer, nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}
