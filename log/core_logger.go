package log

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/tachyon/config"
)

// CoreLogger provides a thread-safe logging implementation with configurable
// appenders and pooled events. It is designed for latency-sensitive network
// code: the disabled-level path allocates nothing and the enabled path reuses
// events through a sync.Pool.
//
// Example usage:
//
//	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, ConsoleAppender: true})
//	logger.Info().Str("addr", addr).Int("queued", n).Msg("connected")
type CoreLogger struct {
	appenderMu        sync.RWMutex
	appenders         []LogAppender
	minLevel          atomic.Uint32
	callerSkip        int
	enabledCallerInfo bool
	eventPool         *sync.Pool
	callerCache       sync.Map
	configMutex       sync.RWMutex
	currentConfig     *LogCfg
}

// NewLogger creates a new CoreLogger instance with the provided configuration.
// If cfg is nil, default configuration values are used.
func NewLogger(cfg *LogCfg) *CoreLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &CoreLogger{
		callerSkip:        cfg.CallerSkip,
		enabledCallerInfo: cfg.EnabledCallerInfo,
		currentConfig:     cfg,
	}
	logger.minLevel.Store(uint32(cfg.LogLevel))

	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}

	return logger
}

// NewLoggerWithConfigManager creates a CoreLogger whose configuration is
// loaded from the given config manager, registering the logger for hot-reload
// of the log level and rotation settings.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *CoreLogger {
	logger := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

// OnConfigChanged implements config.ConfigChangeListener for hot-reload.
func (x *CoreLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	newCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	x.updateConfig(newCfg)
	return nil
}

// GetConfigName implements config.ConfigChangeListener.
func (x *CoreLogger) GetConfigName() string {
	return "logger"
}

func (x *CoreLogger) updateConfig(newCfg *LogCfg) {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()

	x.minLevel.Store(uint32(newCfg.LogLevel))
	x.callerSkip = newCfg.CallerSkip
	x.enabledCallerInfo = newCfg.EnabledCallerInfo
	x.currentConfig = newCfg

	x.Refresh()
}

// GetCurrentConfig returns the active logger configuration.
func (x *CoreLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

func (x *CoreLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// AddAppender adds a new log appender to the logger. Safe to call while other
// goroutines are logging.
func (x *CoreLogger) AddAppender(appender LogAppender) {
	x.appenderMu.Lock()
	x.appenders = append(x.appenders, appender)
	x.appenderMu.Unlock()
}

// GetAppender returns a snapshot of the appenders currently registered with
// the logger.
func (x *CoreLogger) GetAppender() []LogAppender {
	x.appenderMu.RLock()
	defer x.appenderMu.RUnlock()
	return append([]LogAppender(nil), x.appenders...)
}

// Refresh triggers a refresh on all registered appenders.
func (x *CoreLogger) Refresh() {
	x.appenderMu.RLock()
	defer x.appenderMu.RUnlock()
	for _, appender := range x.appenders {
		appender.Refresh()
	}
}

func (x *CoreLogger) newEvent() *LogEvent {
	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	return e
}

// OnEventEnd flushes a finalized event to all appenders and returns it to the
// pool. Fatal events panic after being written.
func (x *CoreLogger) OnEventEnd(e *LogEvent) {
	x.appenderMu.RLock()
	for _, appender := range x.appenders {
		appender.Write(e.buf.Bytes())
	}
	x.appenderMu.RUnlock()

	level := e.level
	x.eventPool.Put(e)

	if level == FatalLevel {
		panic("fatal log event")
	}
}

// Debug creates a new debug-level log event, or nil if disabled.
func (x *CoreLogger) Debug() *LogEvent {
	return x.log(DebugLevel)
}

// Info creates a new info-level log event, or nil if disabled.
func (x *CoreLogger) Info() *LogEvent {
	return x.log(InfoLevel)
}

// Warn creates a new warn-level log event, or nil if disabled.
func (x *CoreLogger) Warn() *LogEvent {
	return x.log(WarnLevel)
}

// Error creates a new error-level log event, or nil if disabled.
func (x *CoreLogger) Error() *LogEvent {
	return x.log(ErrorLevel)
}

// Fatal creates a new fatal-level log event, or nil if disabled.
func (x *CoreLogger) Fatal() *LogEvent {
	return x.log(FatalLevel)
}

type callerInfo struct {
	file     string
	function string
	line     int
	rendered string
}

var _unknownCallerInfo = &callerInfo{file: "unknown", function: "unknown", rendered: "unknown"}

func newCallerInfo(file, function string, line int) *callerInfo {
	return &callerInfo{
		file:     file,
		function: function,
		line:     line,
		rendered: file + ":" + strconv.Itoa(line) + " " + function,
	}
}

func (c *callerInfo) String() string {
	return c.rendered
}

// getCallerInfo resolves the call site of the logging statement. Resolved
// program counters are cached since the set of logging call sites is small
// and stable.
func (x *CoreLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return _unknownCallerInfo
	}

	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}

	funcName := runtime.FuncForPC(pc).Name()
	function := funcName
	if dotIdx := strings.LastIndexByte(funcName, '.'); dotIdx != -1 {
		function = funcName[dotIdx+1:]
	}

	// Keep only the last two path segments of the file.
	if lastSlash := strings.LastIndexByte(file, '/'); lastSlash > 0 {
		if secondLastSlash := strings.LastIndexByte(file[:lastSlash], '/'); secondLastSlash >= 0 {
			file = file[secondLastSlash+1:]
		}
	}

	c := newCallerInfo(file, function, line)
	x.callerCache.Store(pc, c)
	return c
}

// log prepares a new event with the common fields (timestamp, level, caller).
// Returns nil when the level is below the configured threshold; LogEvent
// methods tolerate a nil receiver so call sites need no guard.
func (x *CoreLogger) log(level Level) *LogEvent {
	if !x.checkLevel(level) {
		return nil
	}

	e := x.newEvent()
	e.level = level

	t := time.Now()
	e.Time("time", &t)
	e.Str("level", level.String())

	if x.enabledCallerInfo {
		e.Str("caller", x.getCallerInfo().String())
	}

	return e
}
