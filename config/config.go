package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener is implemented by components that want to be notified
// when a configuration they registered for is reloaded from disk.
type ConfigChangeListener interface {
	// OnConfigChanged is called after a configuration has been reloaded and
	// validated. Listeners receive both the new and the previous instance.
	OnConfigChanged(configName string, newConfig, oldConfig Config) error

	// GetConfigName returns the configuration name the listener is interested in.
	GetConfigName() string
}
