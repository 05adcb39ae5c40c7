package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied to a running process; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections (by YAML key) that changed
	// and only take effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	sections := []struct {
		key      string
		old, new any
	}{
		{"chunking", old.Chunking, new.Chunking},
		{"transcription", old.Transcription, new.Transcription},
		{"media", old.Media, new.Media},
		{"providers", old.Providers, new.Providers},
		{"resilience", old.Resilience, new.Resilience},
		{"output", old.Output, new.Output},
		{"live", old.Live, new.Live},
		{"admin", old.Admin, new.Admin},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.key)
		}
	}
	return d
}
