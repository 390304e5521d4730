package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/ocepa/internal/config"
)

// validConfig returns a config that passes Validate.
func validConfig() *config.Config {
	cfg := &config.Config{Transcription: config.TranscriptionConfig{APIKey: "k"}}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"provider", func(c *config.Config) { c.Transcription.Provider = "deepgram" }, "transcription.provider"},
		{"api key", func(c *config.Config) { c.Transcription.APIKey = "" }, "transcription.api_key is required"},
		{"pending frames", func(c *config.Config) { c.Transcription.PendingFrames = -1 }, "pending_frames"},
		{"sample rate", func(c *config.Config) { c.Capture.SampleRate = -16000 }, "capture.sample_rate"},
		{"frame size", func(c *config.Config) { c.Capture.FrameSize = -1 }, "capture.frame_size"},
		{"classifier", func(c *config.Config) { c.Insights.Classifier = "regex" }, "insights.classifier"},
		{"summarizer", func(c *config.Config) { c.Insights.Summarizer = "magic" }, "insights.summarizer"},
		{"summary lines", func(c *config.Config) { c.Insights.SummaryMinLines = -2 }, "summary_min_lines"},
		{"threshold", func(c *config.Config) { c.Insights.PhoneticThreshold = 1.5 }, "phonetic_threshold"},
		{"sample ratio", func(c *config.Config) { c.Telemetry.TraceSampleRatio = 2 }, "telemetry.trace_sample_ratio"},
		{"rule category", func(c *config.Config) {
			c.Insights.Keywords = []config.KeywordRule{{Terms: []string{"x"}}}
		}, "insights.keywords[0].category is required"},
		{"rule terms", func(c *config.Config) {
			c.Insights.Keywords = []config.KeywordRule{{Category: "Homework", Terms: []string{" "}}}
		}, "insights.keywords[0].terms"},
		{"duplicate rule", func(c *config.Config) {
			c.Insights.Keywords = []config.KeywordRule{
				{Category: "Homework", Terms: []string{"assignment"}},
				{Category: "homework", Terms: []string{"due"}},
			}
		}, "duplicate"},
		{"llm classifier without provider", func(c *config.Config) {
			c.Insights.Classifier = config.ClassifierLLM
			c.Insights.LLM.Model = "m"
		}, "insights.llm.provider"},
		{"llm summarizer without model", func(c *config.Config) {
			c.Insights.Summarizer = config.SummarizerLLM
			c.Insights.LLM.Provider = "openai"
		}, "insights.llm.model"},
		{"llm fallback without model", func(c *config.Config) {
			c.Insights.LLMFallbacks = []config.LLMConfig{{Provider: "ollama"}}
		}, "insights.llm_fallbacks[0].model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Transcription.APIKey = ""
	cfg.Insights.Classifier = "regex"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"server.log_level", "transcription.api_key", "insights.classifier"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_UnknownLLMProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Insights.LLM = config.LLMConfig{Provider: "llamafile", Model: "m"}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unknown llm provider should only warn, got: %v", err)
	}
}
