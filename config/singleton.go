package config

import "sync"

var (
	_instance ConfigManager
	_once     sync.Once
)

// GetInstance returns the process-wide configuration manager, creating it on
// first use. Components that do not receive an explicit manager fall back to
// this instance.
func GetInstance() ConfigManager {
	_once.Do(func() {
		_instance = NewConfigManager()
	})
	return _instance
}

// SetInstance replaces the process-wide configuration manager. Intended for
// tests and for applications that build their own manager during startup.
func SetInstance(cm ConfigManager) {
	_once.Do(func() {})
	_instance = cm
}
