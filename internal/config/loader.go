package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvGeminiAPIKey overrides transcription.api_key when set.
const EnvGeminiAPIKey = "OCEPA_GEMINI_API_KEY"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultSampleRate      = 16000
	DefaultFrameSize       = 4096
	DefaultSummaryMinLines = 5
	DefaultServiceName     = "ocepa"
)

// ValidLLMProviders lists the any-llm-go backends wired by the insight
// package. Used by [Validate] to warn about unrecognised names.
var ValidLLMProviders = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies environment overrides into cfg. lookup is usually
// [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvGeminiAPIKey); ok && v != "" {
		cfg.Transcription.APIKey = v
	}
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transcription.Provider == "" {
		cfg.Transcription.Provider = TranscriptionGeminiLive
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.FrameSize == 0 {
		cfg.Capture.FrameSize = DefaultFrameSize
	}
	if cfg.Insights.Classifier == "" {
		cfg.Insights.Classifier = ClassifierKeyword
	}
	if cfg.Insights.Summarizer == "" {
		cfg.Insights.Summarizer = SummarizerExtractive
	}
	if cfg.Insights.SummaryMinLines == 0 {
		cfg.Insights.SummaryMinLines = DefaultSummaryMinLines
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transcription
	if p := cfg.Transcription.Provider; p != "" && p != TranscriptionGeminiLive {
		errs = append(errs, fmt.Errorf("transcription.provider %q is invalid; valid values: %s", p, TranscriptionGeminiLive))
	}
	if cfg.Transcription.APIKey == "" {
		errs = append(errs, fmt.Errorf("transcription.api_key is required (or set %s)", EnvGeminiAPIKey))
	}
	if cfg.Transcription.PendingFrames < 0 {
		errs = append(errs, fmt.Errorf("transcription.pending_frames %d must not be negative", cfg.Transcription.PendingFrames))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	} else if cfg.Capture.SampleRate > 0 && cfg.Capture.SampleRate != DefaultSampleRate {
		slog.Warn("capture.sample_rate differs from the rate Gemini Live expects", "sample_rate", cfg.Capture.SampleRate, "expected", DefaultSampleRate)
	}
	if cfg.Capture.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_size %d must be positive", cfg.Capture.FrameSize))
	}

	// Insights
	in := cfg.Insights
	if in.Classifier != "" && !in.Classifier.IsValid() {
		errs = append(errs, fmt.Errorf("insights.classifier %q is invalid; valid values: keyword, llm, none", in.Classifier))
	}
	if in.Summarizer != "" && !in.Summarizer.IsValid() {
		errs = append(errs, fmt.Errorf("insights.summarizer %q is invalid; valid values: none, llm, extractive", in.Summarizer))
	}
	if in.SummaryMinLines < 0 {
		errs = append(errs, fmt.Errorf("insights.summary_min_lines %d must not be negative", in.SummaryMinLines))
	}
	if in.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("insights.phonetic_threshold %.2f is out of range (0, 1]", in.PhoneticThreshold))
	}
	categorySeen := make(map[string]int, len(in.Keywords))
	for i, rule := range in.Keywords {
		prefix := fmt.Sprintf("insights.keywords[%d]", i)
		cat := strings.TrimSpace(rule.Category)
		if cat == "" {
			errs = append(errs, fmt.Errorf("%s.category is required", prefix))
		} else {
			if prev, ok := categorySeen[strings.ToLower(cat)]; ok {
				errs = append(errs, fmt.Errorf("%s.category %q is a duplicate of insights.keywords[%d]", prefix, cat, prev))
			}
			categorySeen[strings.ToLower(cat)] = i
		}
		if !slices.ContainsFunc(rule.Terms, func(t string) bool { return strings.TrimSpace(t) != "" }) {
			errs = append(errs, fmt.Errorf("%s.terms must contain at least one term", prefix))
		}
	}
	if in.Classifier == ClassifierLLM || in.Summarizer == SummarizerLLM {
		if in.LLM.Provider == "" {
			errs = append(errs, fmt.Errorf("insights.llm.provider is required when the llm classifier or summarizer is selected"))
		}
		if in.LLM.Model == "" {
			errs = append(errs, fmt.Errorf("insights.llm.model is required when the llm classifier or summarizer is selected"))
		}
	}
	validateLLMProvider(in.LLM.Provider)
	for i, fb := range in.LLMFallbacks {
		prefix := fmt.Sprintf("insights.llm_fallbacks[%d]", i)
		if fb.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		validateLLMProvider(fb.Provider)
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be between 0 and 1", r))
	}

	return errors.Join(errs...)
}

// validateLLMProvider logs a warning if name is non-empty and not found in
// [ValidLLMProviders].
func validateLLMProvider(name string) {
	if name == "" || slices.Contains(ValidLLMProviders, strings.ToLower(name)) {
		return
	}
	slog.Warn("unknown llm provider name, may be a typo",
		"name", name,
		"known", ValidLLMProviders,
	)
}
