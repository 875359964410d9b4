package config

import (
	"os"
	"strings"

	"github.com/ianrichard/agentservice/errors"
	"github.com/joho/godotenv"
)

// ModelEnvVar names the environment variable holding the model identifier,
// e.g. "openai:gpt-4o" or "anthropic:claude-sonnet-4-0".
const ModelEnvVar = "BASE_MODEL"

// ErrMissingModel is returned when ModelEnvVar is unset or empty.
var ErrMissingModel = errors.Sentinel(ModelEnvVar + " environment variable is required")

// LoadEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Variables already set are kept, and
// missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "failed to load %s", p)
		}
	}
	return nil
}

// ModelFromEnv returns the model identifier from ModelEnvVar.
func ModelFromEnv() (string, error) {
	model := strings.TrimSpace(os.Getenv(ModelEnvVar))
	if model == "" {
		return "", ErrMissingModel
	}
	return model, nil
}

// Provider names accepted as the prefix of a model identifier.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "google-gla"
	ProviderBedrock   = "bedrock"
	ProviderTest      = "test"
)

var providerAliases = map[string]string{
	"openai":        ProviderOpenAI,
	"anthropic":     ProviderAnthropic,
	"google-gla":    ProviderGemini,
	"google-vertex": ProviderGemini,
	"gemini":        ProviderGemini,
	"bedrock":       ProviderBedrock,
	"test":          ProviderTest,
}

// ParseModel splits a model identifier of the form "provider:name". Bare names
// are mapped to a provider by their well-known prefix.
func ParseModel(id string) (provider, name string, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", ErrMissingModel
	}
	if id == ProviderTest {
		return ProviderTest, ProviderTest, nil
	}

	if p, n, ok := strings.Cut(id, ":"); ok {
		canonical, known := providerAliases[strings.ToLower(p)]
		if !known {
			return "", "", errors.New("unknown model provider '%s' in '%s'", p, id)
		}
		if n == "" {
			return "", "", errors.New("model name missing in '%s'", id)
		}
		return canonical, n, nil
	}

	switch {
	case strings.HasPrefix(id, "gpt-"), strings.HasPrefix(id, "o1"), strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"):
		return ProviderOpenAI, id, nil
	case strings.HasPrefix(id, "claude"):
		return ProviderAnthropic, id, nil
	case strings.HasPrefix(id, "gemini"):
		return ProviderGemini, id, nil
	}
	return "", "", errors.New("cannot infer provider for model '%s'; use the provider:model form", id)
}
