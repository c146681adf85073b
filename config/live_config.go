package config

import (
	"sync"
	"time"
)

// ConfigObserver is notified after every accepted config change.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// ObserverFunc adapts a function to ConfigObserver.
type ObserverFunc func(cfg *Config)

func (f ObserverFunc) OnConfigUpdate(cfg *Config) {
	f(cfg)
}

// LiveConfig holds the runtime-tunable config. Readers get clones, writers go
// through Validate.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	version     int
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Notify returns the current alert thresholds without cloning the whole
// config; it is read once per rendered transfer.
func (lc *LiveConfig) Notify() NotifyConfig {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Notify
}

// Update validates and swaps in newConfig, then notifies observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.version++
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Outside the lock so observers may call Get.
	lc.notifyObservers(cloned)

	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and stores
// the result if it validates.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	lc.mu.RLock()
	newConfig := lc.config.Clone()
	lc.mu.RUnlock()

	updateFn(newConfig)

	return lc.Update(newConfig)
}

func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// Version counts accepted updates since start.
func (lc *LiveConfig) Version() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.version
}

func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
