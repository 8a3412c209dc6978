package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskpilot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging the reload.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 3)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Nil storage means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// Token values never reach the log; only enablement and bind address.
	var oDebug, nDebug DebugConfig
	if oldCfg.Debug != nil {
		oDebug = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nDebug = *newCfg.Debug
	}
	if oDebug.Enabled != nDebug.Enabled || oDebug.Addr != nDebug.Addr {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nDebug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nDebug.Addr)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.max_concurrent_tasks", newCfg.Engine.MaxConcurrentTasks),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.timeout", strings.TrimSpace(newCfg.Engine.Timeout)),
			logx.Float64("engine.resource_threshold", newCfg.Engine.ResourceThreshold),
			logx.String("engine.poll_interval", strings.TrimSpace(newCfg.Engine.PollInterval)),
			logx.String("engine.duration_type", strings.TrimSpace(newCfg.Engine.DurationType)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
