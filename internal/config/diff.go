package config

import (
	"reflect"
	"sort"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	ProvidersAdded   []string
	ProvidersRemoved []string
	ProvidersChanged []string

	// DefaultProviderChanged is set when crews.provider changed.
	DefaultProviderChanged bool

	RetryChanged bool
	NewRetry     RetryConfig

	RouterChanged bool
	NewRouter     RouterConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.ProvidersAdded) > 0 ||
		len(d.ProvidersRemoved) > 0 ||
		len(d.ProvidersChanged) > 0 ||
		d.DefaultProviderChanged ||
		d.RetryChanged ||
		d.RouterChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	for name := range new.Providers {
		if _, ok := old.Providers[name]; !ok {
			d.ProvidersAdded = append(d.ProvidersAdded, name)
		}
	}
	for name, oldP := range old.Providers {
		newP, ok := new.Providers[name]
		if !ok {
			d.ProvidersRemoved = append(d.ProvidersRemoved, name)
			continue
		}
		if !reflect.DeepEqual(oldP, newP) {
			d.ProvidersChanged = append(d.ProvidersChanged, name)
		}
	}
	sort.Strings(d.ProvidersAdded)
	sort.Strings(d.ProvidersRemoved)
	sort.Strings(d.ProvidersChanged)

	d.DefaultProviderChanged = old.Crews.Provider != new.Crews.Provider

	if old.Retry != new.Retry {
		d.RetryChanged = true
		d.NewRetry = new.Retry
	}
	if old.Router != new.Router {
		d.RouterChanged = true
		d.NewRouter = new.Router
	}
	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port || old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if old.Crews.Dir != new.Crews.Dir || old.Crews.Watch != new.Crews.Watch {
		d.NonReloadable = append(d.NonReloadable, "crews.dir")
	}
	if old.Crews.MaxConcurrent != new.Crews.MaxConcurrent {
		d.NonReloadable = append(d.NonReloadable, "crews.max_concurrent")
	}

	return d
}
