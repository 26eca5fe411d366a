package config

// LLMConfig configures the LLM providers available to driver bindings.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider fails.
	// Providers are tried in order until one succeeds.
	// Example: ["anthropic", "openai"] - try Anthropic first, then OpenAI.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures a single LLM provider.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}
