package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const (
	defaultLogPath = "./worksrelay.log"
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
)

// Service owns the log sinks. Apply rebuilds them in place; Loggers derived
// from it follow along.
type Service struct {
	root   atomic.Pointer[zerolog.Logger]
	alerts *alertSink

	mu   sync.Mutex
	file *os.File
}

var setGlobals sync.Once

// New applies cfg and returns the service with its root logger. sender may
// be nil until SetAlertSender is called.
func New(cfg Config, sender AlertSender) (*Service, Logger) {
	setGlobals.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
	s := &Service{alerts: newAlertSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetAlertSender wires the messaging client, which is built after logging.
func (s *Service) SetAlertSender(sender AlertSender) { s.alerts.setSender(sender) }

// AlertsDropped counts alerts lost to a full queue.
func (s *Service) AlertsDropped() uint64 { return s.alerts.dropped.Load() }

// Apply swaps sinks and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter())
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	s.alerts.apply(cfg.Alert)
	if cfg.Alert.Enabled {
		sinks = append(sinks, s.alerts)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	// the old file goes only after the new root stops pointing at it
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the alert worker and closes the log file.
func (s *Service) Close() error {
	s.alerts.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}
