package log

import "fmt"

// LogCfg configures the core logger. Loadable through the config manager with
// hot-reload support for the log level and rotation threshold.
type LogCfg struct {
	// LogPath is the target log file path for file-based logging.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level that will be written. Numeric:
	// 0=Trace 1=Debug 2=Info 3=Warn 4=Error 5=Fatal.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB is the file rotation threshold in megabytes. Zero disables
	// size-based rotation.
	FileSplitMB int `mapstructure:"splitmb"`

	// CallerSkip is the number of extra stack frames to skip when capturing
	// caller information. Useful for wrapper layers.
	CallerSkip int `mapstructure:"callerSkip"`

	// FileAppender enables file-based output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables stdout output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// EnabledCallerInfo enables capturing file/function/line of the call site.
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName returns the configuration name for LogCfg
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate validates the LogCfg parameters
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel > FatalLevel {
		return fmt.Errorf("LogLevel out of range")
	}
	if cfg.FileSplitMB < 0 {
		return fmt.Errorf("FileSplitMB must be non-negative")
	}
	if cfg.FileAppender && cfg.LogPath == "" {
		return fmt.Errorf("LogPath cannot be empty when FileAppender is enabled")
	}
	return nil
}

var _defaultCfg = &LogCfg{
	LogPath:         "./tachyon.log",
	LogLevel:        DebugLevel,
	FileSplitMB:     50,
	CallerSkip:      0,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
