package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Log level and
// insights are applied live; every other section needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InsightsChanged is set when the classifier, keyword rules, LLM or
	// summarizer settings differ. New live sessions pick up the change.
	InsightsChanged bool

	// RestartRequired lists the top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.InsightsChanged = !insightsEqual(old.Insights, new.Insights)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func insightsEqual(a, b InsightsConfig) bool {
	if a.Classifier != b.Classifier || a.Summarizer != b.Summarizer ||
		a.SummaryMinLines != b.SummaryMinLines || a.PhoneticThreshold != b.PhoneticThreshold ||
		a.LLM != b.LLM || !slices.Equal(a.LLMFallbacks, b.LLMFallbacks) {
		return false
	}
	return slices.EqualFunc(a.Keywords, b.Keywords, func(x, y KeywordRule) bool {
		return reflect.DeepEqual(x, y)
	})
}
