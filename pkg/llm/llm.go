package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/types"
)

const (
	defaultMaxTokens         = 50
	defaultTemperature       = 0.3
	defaultSamplesPerCluster = 5

	requestTimeout = 30 * time.Second
)

// promptTemplate is the fixed naming prompt. The wording is part of the
// contract with prompt-tuned deployments; do not edit casually.
const promptTemplate = "These are representative texts from a document cluster:\n\n" +
	"%s\n\n" +
	"Provide a short, concise topic name (2-4 words) that captures the main theme. " +
	"Respond with ONLY the topic name, nothing else."

// Options are the per-call knobs resolved from the job's LLM config bag.
type Options struct {
	MaxTokens         int
	Temperature       float64
	SamplesPerCluster int
}

// ResolveOptions applies the config-bag overrides over the defaults.
func ResolveOptions(cfg *types.LLMConfig) Options {
	opts := Options{
		MaxTokens:         defaultMaxTokens,
		Temperature:       defaultTemperature,
		SamplesPerCluster: defaultSamplesPerCluster,
	}
	if cfg == nil {
		return opts
	}
	if v := cfg.Config.MaxTokens; v != nil && *v > 0 {
		opts.MaxTokens = *v
	}
	if v := cfg.Config.Temperature; v != nil && *v >= 0 {
		opts.Temperature = *v
	}
	if v := cfg.Config.SamplesPerCluster; v != nil && *v > 0 {
		opts.SamplesPerCluster = *v
	}
	return opts
}

// Namer generates short topic labels for clusters of texts through one of
// the supported providers.
type Namer struct {
	httpClient      *http.Client
	internalBaseURL string

	// Provider endpoints and retry pacing, overridable in tests.
	cohereURL     string
	openaiURL     string
	retryInterval time.Duration

	logger zerolog.Logger
}

// NewNamer builds a Namer. internalBaseURL points at the in-cluster
// inference API and is only used for the internal provider.
func NewNamer(internalBaseURL string) *Namer {
	return &Namer{
		httpClient:      &http.Client{Timeout: requestTimeout},
		internalBaseURL: strings.TrimRight(internalBaseURL, "/"),
		cohereURL:       "https://api.cohere.com/v2/chat",
		openaiURL:       "https://api.openai.com/v1/chat/completions",
		retryInterval:   2 * time.Second,
		logger:          log.WithComponent("llm"),
	}
}

// TopicName produces a 2-5 word label for the given sample texts using the
// provider selected by cfg.
func (n *Namer) TopicName(ctx context.Context, texts []string, cfg *types.LLMConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("llm config is required")
	}

	opts := ResolveOptions(cfg)
	if len(texts) > opts.SamplesPerCluster {
		texts = texts[:opts.SamplesPerCluster]
	}
	prompt := fmt.Sprintf(promptTemplate, strings.Join(texts, "\n"))

	var (
		name string
		err  error
	)
	start := time.Now()
	switch cfg.ProviderTag() {
	case types.ProviderCohere:
		name, err = n.cohereChat(ctx, prompt, cfg, opts)
	case types.ProviderOpenAI:
		name, err = n.openaiChat(ctx, prompt, cfg, opts)
	case types.ProviderInternal:
		name, err = n.internalChat(ctx, prompt, cfg, opts)
	default:
		return "", fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return "", err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%s returned an empty topic name", cfg.ProviderTag())
	}

	n.logger.Debug().
		Str("provider", string(cfg.ProviderTag())).
		Str("model", cfg.Model).
		Str("topic", name).
		Dur("elapsed", time.Since(start)).
		Msg("topic name generated")
	return name, nil
}
