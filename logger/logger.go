package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	MaxLogDirSize = 10 * 1024 * 1024 // 10MB
	LogFileName   = "proplink.log"
)

var (
	logFile     *os.File
	logDir      string
	mu          sync.Mutex
	initialized bool
	stopCheck   chan struct{}

	// sizeLimit is the rotation threshold; tests lower it.
	sizeLimit int64 = MaxLogDirSize

	out = &swapWriter{w: os.Stderr}
	log = newLogger(out)
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// swapWriter lets the destination change while loggers hold on to it.
type swapWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *swapWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// swap installs w and returns the previous destination. No write is in
// flight on the old one once swap returns.
func (s *swapWriter) swap(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.w
	s.w = w
	return old
}

// Init initializes the logger with a log directory
func Init(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}

	logDir = dir

	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file
	logPath := filepath.Join(logDir, LogFileName)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = file
	out.swap(file)
	initialized = true
	stopCheck = make(chan struct{})

	// Check log directory size on startup
	go checkAndRotate()

	// Start periodic size check
	go periodicSizeCheck(stopCheck)

	log.Info().Msg("Logger initialized")
	return nil
}

// Close closes the log file and falls back to stderr
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if stopCheck != nil {
		close(stopCheck)
		stopCheck = nil
	}
	out.swap(os.Stderr)
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	initialized = false
}

// SetDebug toggles debug level output
func SetDebug(on bool) {
	if on {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetOutput redirects logging, mainly for tests
func SetOutput(w io.Writer) {
	out.swap(w)
}

func current() *zerolog.Logger {
	return &log
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// Protocol logs wire-level traffic
func Protocol(direction, target string, data []byte) {
	ev := current().Debug().Str("dir", direction).Str("target", target).Int("len", len(data))
	if len(data) > 100 {
		ev = ev.Hex("first_100", data[:100])
	} else {
		ev = ev.Hex("data", data)
	}
	ev.Msg("proto")
}

// checkAndRotate checks directory size and rotates if necessary
func checkAndRotate() {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return
	}

	size, err := getDirSize(logDir)
	if err != nil {
		log.Error().Err(err).Msg("error checking log directory size")
		return
	}

	if size > sizeLimit {
		rotateOldLogs()
	}
}

// getDirSize calculates total size of files in directory
func getDirSize(dir string) (int64, error) {
	var size int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size += info.Size()
	}
	return size, nil
}

// rotateOldLogs removes old log files when directory exceeds size limit
func rotateOldLogs() {
	currentLogPath := filepath.Join(logDir, LogFileName)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		log.Error().Err(err).Msg("error reading log directory")
		return
	}

	// Remove old archived logs first (keep current log)
	for _, entry := range entries {
		if entry.Name() != LogFileName && !entry.IsDir() {
			filePath := filepath.Join(logDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				log.Error().Err(err).Str("file", entry.Name()).Msg("error removing old log")
			} else {
				log.Info().Str("file", entry.Name()).Msg("removed old log")
			}
		}
	}

	// Check size again
	size, _ := getDirSize(logDir)
	if size <= sizeLimit {
		return
	}

	// Current log is still too big, archive and truncate
	archiveName := fmt.Sprintf("proplink.%s.log", time.Now().Format("20060102-150405"))
	archivePath := filepath.Join(logDir, archiveName)

	os.Rename(currentLogPath, archivePath)

	file, err := os.OpenFile(currentLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Error().Err(err).Msg("error creating new log file, keeping archive open")
		return
	}
	out.swap(file)
	if logFile != nil {
		logFile.Close()
	}
	logFile = file

	// Remove archive immediately if still over limit
	os.Remove(archivePath)

	log.Info().Msg("log rotated and cleaned")
}

// periodicSizeCheck checks log directory size every hour
func periodicSizeCheck(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			checkAndRotate()
		}
	}
}
