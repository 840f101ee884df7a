// Package logging provides the process-wide structured logger every
// subsystem in this module writes diagnostics through. It keeps the
// Config/Init/Close shape the rest of the pack's storage engines use,
// backed by go.uber.org/zap.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Level is logging verbosity, mirrored onto a zap level on Init.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

func (l Level) zapLevel() zap.AtomicLevel {
	switch l {
	case LevelDebug:
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case LevelWarn:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case LevelError:
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// Config selects the logger's verbosity and target environment.
type Config struct {
	Level Level
	// Development selects zap.NewDevelopment-style console output
	// (readable, colorized) instead of the production JSON encoder.
	Development bool
}

var (
	mu     sync.RWMutex
	base   *zap.Logger
	Logger *zap.SugaredLogger
	inited bool
)

// Init installs the process-wide logger. A second call without an
// intervening Close returns an error, mirroring the teacher's
// once-per-process logging package.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if inited {
		return fmt.Errorf("logging: already initialized; call Close() first")
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = cfg.Level.zapLevel()

	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("logging: build zap logger: %w", err)
	}

	base = l
	Logger = l.Sugar()
	inited = true
	return nil
}

// Get lazily initializes a development logger if Init was never called,
// so packages can log during tests without an explicit setup step.
func Get() *zap.SugaredLogger {
	mu.RLock()
	if inited {
		l := Logger
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	_ = Init(Config{Level: LevelInfo, Development: true})

	mu.RLock()
	defer mu.RUnlock()
	return Logger
}

// Close flushes and releases the process-wide logger, permitting a
// subsequent Init.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if !inited {
		return nil
	}
	err := base.Sync()
	base, Logger, inited = nil, nil, false
	return err
}
