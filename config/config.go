// Package config loads the issuer configuration from a YAML file with
// BOTCHA_-prefixed environment variables layered on top.
package config

import (
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/layer-3/botcha/core"
	"github.com/pkg/errors"
)

// EnvPrefix marks environment variables that override file values.
// Nesting uses a single underscore: BOTCHA_TOKENS_ACCESSTTL=20m.
const EnvPrefix = "BOTCHA_"

type Config struct {
	Log Log `yaml:"log"`

	HTTP struct {
		Addr              string        `yaml:"addr"`
		ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
		BindClientIP      bool          `yaml:"bindClientIP"`
		GatedAppID        string        `yaml:"gatedAppID"`
		RateLimit         struct {
			PerSecond float64 `yaml:"perSecond"` // 0 disables rate limiting
			Burst     int     `yaml:"burst"`
		} `yaml:"rateLimit"`
	} `yaml:"http"`

	// Secret signs and verifies every token. Required.
	Secret string `yaml:"secret"`

	Tokens struct {
		AccessTTL    time.Duration `yaml:"accessTTL"`
		RefreshTTL   time.Duration `yaml:"refreshTTL"`
		ChallengeTTL time.Duration `yaml:"challengeTTL"`
		TimeLimit    time.Duration `yaml:"timeLimit"`
		ProblemCount int           `yaml:"problemCount"`
	} `yaml:"tokens"`

	// Redis backs the stores and the event stream. Empty means in-memory.
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Events struct {
		Enabled bool  `yaml:"enabled"`
		MaxLen  int64 `yaml:"maxLen"` // Approximate stream length cap, 0 for unbounded
	} `yaml:"events"`
}

type Log struct {
	Pretty bool   `yaml:"pretty"`
	Level  string `yaml:"level"`
}

// Default returns the configuration used for keys absent from file and environment
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.HTTP.Addr = ":9000"
	cfg.HTTP.ReadHeaderTimeout = 5 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.HTTP.RateLimit.PerSecond = 5
	cfg.HTTP.RateLimit.Burst = 20
	cfg.Tokens.AccessTTL = 15 * time.Minute
	cfg.Tokens.RefreshTTL = time.Hour
	cfg.Tokens.ChallengeTTL = 30 * time.Second
	cfg.Tokens.TimeLimit = 10 * time.Second
	cfg.Tokens.ProblemCount = 5
	cfg.Events.Enabled = true
	cfg.Events.MaxLen = 100000
	return cfg
}

// Load reads path (skipped when empty), applies the environment and validates the result
func Load(path string) (*Config, error) {
	return load(path, os.Environ)
}

func load(path string, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read config %s failed", path)
		}
	}

	existing := k.Raw()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return canonicalizeEnvKey(strings.TrimPrefix(key, EnvPrefix), existing), value
		},
		EnvironFunc: environ,
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			TagName:          "yaml",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			// Env keys arrive lower-cased
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config failed")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Secret) == "":
		return errors.New("secret is required")
	case c.HTTP.Addr == "":
		return errors.New("http.addr is required")
	case c.HTTP.RateLimit.PerSecond < 0:
		return errors.New("http.rateLimit.perSecond must not be negative")
	case c.HTTP.RateLimit.PerSecond > 0 && c.HTTP.RateLimit.Burst < 1:
		return errors.New("http.rateLimit.burst must be at least 1")
	case c.Tokens.AccessTTL <= core.RefreshBuffer:
		// Clients would discard such a token immediately and solve a new challenge on every call
		return errors.Errorf("tokens.accessTTL must exceed the client refresh buffer of %s", core.RefreshBuffer)
	case c.Tokens.RefreshTTL < c.Tokens.AccessTTL:
		return errors.New("tokens.refreshTTL must not be shorter than tokens.accessTTL")
	case c.Tokens.ChallengeTTL <= 0:
		return errors.New("tokens.challengeTTL must be positive")
	case c.Tokens.TimeLimit <= 0:
		return errors.New("tokens.timeLimit must be positive")
	case c.Tokens.ProblemCount < 1:
		return errors.New("tokens.problemCount must be at least 1")
	}
	return nil
}

// canonicalizeEnvKey maps TOKENS_ACCESSTTL to the spelling used in the file (tokens.accessTTL)
func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		matched, next, ok := findExistingSegment(current, segment)
		if ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (string, map[string]any, bool) {
	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}
		child, _ := value.(map[string]any)
		return key, child, true
	}
	return "", nil, false
}

func normalizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
