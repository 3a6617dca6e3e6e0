package config

// ConfigBackend is persistent storage for non-secret settings. Values are
// kept as the strings a user typed; typing happens against the settings
// table on load.
type ConfigBackend interface {
	Get(key string) (raw string, ok bool, err error)
	Set(key, raw string) error
	Delete(key string) error
}
