package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full tuning run configuration.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Search  SearchConfig  `yaml:"search"`
	Data    DataConfig    `yaml:"data"`
	Logging LoggingConfig `yaml:"logging"`
	Output  OutputConfig  `yaml:"output"`
}

// ModelConfig holds the fusion model shape and the frozen encoder settings.
type ModelConfig struct {
	HiddenDim     int     `yaml:"hidden_dim"` // must divide evenly by heads
	Heads         int     `yaml:"heads"`
	EncoderLayers int     `yaml:"encoder_layers"`
	DecoderLayers int     `yaml:"decoder_layers"`
	FFNDim        int     `yaml:"ffn_dim"`
	Classes       int     `yaml:"classes"`
	Summary       string  `yaml:"summary"`   // mean, head (default: mean)
	Seed          int64   `yaml:"seed"`
	ClipNorm      float64 `yaml:"clip_norm"` // 0 disables clipping

	Text  TextEncoderConfig  `yaml:"text"`
	Image ImageEncoderConfig `yaml:"image"`
	Audio AudioEncoderConfig `yaml:"audio"`
}

// TextEncoderConfig holds hash-embedding settings.
type TextEncoderConfig struct {
	Width   int `yaml:"width"`
	Buckets int `yaml:"buckets"`
}

// ImageEncoderConfig holds patch-embedding settings.
type ImageEncoderConfig struct {
	Width int `yaml:"width"`
	Size  int `yaml:"size"`  // resize target, must divide evenly by patch
	Patch int `yaml:"patch"`
}

// AudioEncoderConfig holds frame-stacking settings.
type AudioEncoderConfig struct {
	Width int `yaml:"width"`
	Rate  int `yaml:"rate"`  // target sample rate
	Frame int `yaml:"frame"` // samples per frame
	Hop   int `yaml:"hop"`
}

// SearchConfig holds the hyperparameter search settings.
type SearchConfig struct {
	Trials     int    `yaml:"trials"`
	Sampler    string `yaml:"sampler"`     // random, grid, gp (default: random)
	Workers    int    `yaml:"workers"`     // >1 selects the pool executor
	Seed       int64  `yaml:"seed"`
	GridLevels int    `yaml:"grid_levels"` // 0 = smallest grid covering trials

	GP GPConfig `yaml:"gp"`

	// remote dispatch: when worker_addrs is non-empty the search ships
	// trials to those worker processes instead of running them in-process
	CoordinatorAddr string   `yaml:"coordinator_addr"`
	WorkerAddrs     []string `yaml:"worker_addrs"`

	Params []ParamConfig `yaml:"params"`
}

// GPConfig tunes the model-based sampler.
type GPConfig struct {
	InitSamples int     `yaml:"init_samples"`
	Candidates  int     `yaml:"candidates"`
	Beta        float64 `yaml:"beta"`
	Lengthscale float64 `yaml:"lengthscale"`
	Noise       float64 `yaml:"noise"`
}

// ParamConfig declares one search dimension.
type ParamConfig struct {
	Name string  `yaml:"name"`
	Dist string  `yaml:"dist"` // uniform, loguniform
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// DataConfig holds the training examples the trials step on.
type DataConfig struct {
	Examples []ExampleConfig `yaml:"examples"`
}

// ExampleConfig is one supervised tuple. Image and Audio are file paths;
// leaving them empty switches the corresponding modality to the stub encoder
// for the whole run.
type ExampleConfig struct {
	Text  string `yaml:"text"`
	Image string `yaml:"image"`
	Audio string `yaml:"audio"`
	Label int    `yaml:"label"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // development, production (default: production)
	Level string `yaml:"level"` // debug, info, warn, error
}

// OutputConfig holds result export settings.
type OutputConfig struct {
	Results string `yaml:"results"`
}

// Load reads, expands, parses and validates a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Substitute env variables of the form ${VAR} / ${VAR:-default}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Model.HiddenDim <= 0 {
		c.Model.HiddenDim = 64
	}
	if c.Model.Heads <= 0 {
		c.Model.Heads = 4
	}
	if c.Model.EncoderLayers <= 0 {
		c.Model.EncoderLayers = 2
	}
	if c.Model.DecoderLayers <= 0 {
		c.Model.DecoderLayers = 2
	}
	if c.Model.FFNDim <= 0 {
		c.Model.FFNDim = 128
	}
	if c.Model.Classes <= 0 {
		c.Model.Classes = 4
	}
	if c.Model.Summary == "" {
		c.Model.Summary = "mean"
	}
	if c.Model.Seed == 0 {
		c.Model.Seed = 42
	}
	if c.Model.Text.Width <= 0 {
		c.Model.Text.Width = 48
	}
	if c.Model.Text.Buckets <= 0 {
		c.Model.Text.Buckets = 512
	}
	if c.Model.Image.Width <= 0 {
		c.Model.Image.Width = 96
	}
	if c.Model.Image.Size <= 0 {
		c.Model.Image.Size = 64
	}
	if c.Model.Image.Patch <= 0 {
		c.Model.Image.Patch = 16
	}
	if c.Model.Audio.Width <= 0 {
		c.Model.Audio.Width = 40
	}
	if c.Model.Audio.Rate <= 0 {
		c.Model.Audio.Rate = 16000
	}
	if c.Model.Audio.Frame <= 0 {
		c.Model.Audio.Frame = 400
	}
	if c.Model.Audio.Hop <= 0 {
		c.Model.Audio.Hop = 160
	}

	if c.Search.Trials <= 0 {
		c.Search.Trials = 20
	}
	if c.Search.Sampler == "" {
		c.Search.Sampler = "random"
	}
	if c.Search.Workers <= 0 {
		c.Search.Workers = 1
	}
	if c.Search.Seed == 0 {
		c.Search.Seed = 7
	}
	if c.Search.GP.InitSamples <= 0 {
		c.Search.GP.InitSamples = 5
	}
	if c.Search.GP.Candidates <= 0 {
		c.Search.GP.Candidates = 64
	}
	if c.Search.GP.Beta <= 0 {
		c.Search.GP.Beta = 2.0
	}
	if c.Search.GP.Lengthscale <= 0 {
		c.Search.GP.Lengthscale = 0.2
	}
	if c.Search.GP.Noise <= 0 {
		c.Search.GP.Noise = 1e-6
	}
	if c.Search.CoordinatorAddr == "" {
		c.Search.CoordinatorAddr = "127.0.0.1:7600"
	}
	if len(c.Search.Params) == 0 {
		c.Search.Params = []ParamConfig{
			{Name: "lr", Dist: "loguniform", Low: 1e-5, High: 1e-3},
			{Name: "weight_decay", Dist: "loguniform", Low: 1e-6, High: 1e-2},
		}
	}

	if len(c.Data.Examples) == 0 {
		c.Data.Examples = defaultExamples(c.Model.Classes)
	}

	if c.Logging.Env == "" {
		c.Logging.Env = "production"
	}
	if c.Output.Results == "" {
		c.Output.Results = "results.json"
	}
}

// defaultExamples is a tiny stub-modality dataset so a bare config can still
// run a search end to end.
func defaultExamples(classes int) []ExampleConfig {
	texts := []string{
		"a red square on white canvas",
		"low hum of an idle engine",
		"green field under an open sky",
		"sharp click of a closing door",
	}
	out := make([]ExampleConfig, len(texts))
	for i, txt := range texts {
		out[i] = ExampleConfig{Text: txt, Label: i % classes}
	}
	return out
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Model.HiddenDim%c.Model.Heads != 0 {
		return fmt.Errorf("model.hidden_dim %d must divide evenly by model.heads %d",
			c.Model.HiddenDim, c.Model.Heads)
	}
	if c.Model.Classes < 2 {
		return fmt.Errorf("model.classes must be at least 2, got %d", c.Model.Classes)
	}
	switch c.Model.Summary {
	case "mean", "head":
	default:
		return fmt.Errorf("model.summary must be \"mean\" or \"head\", got %q", c.Model.Summary)
	}
	if c.Model.Image.Size%c.Model.Image.Patch != 0 {
		return fmt.Errorf("model.image.size %d must divide evenly by model.image.patch %d",
			c.Model.Image.Size, c.Model.Image.Patch)
	}

	switch c.Search.Sampler {
	case "random", "grid", "gp":
	default:
		return fmt.Errorf("search.sampler must be one of random, grid, gp, got %q", c.Search.Sampler)
	}
	for i, p := range c.Search.Params {
		if p.Name == "" {
			return fmt.Errorf("search.params[%d].name is required", i)
		}
		switch p.Dist {
		case "uniform", "loguniform":
		default:
			return fmt.Errorf("search.params[%d].dist must be uniform or loguniform, got %q", i, p.Dist)
		}
		if p.Low >= p.High {
			return fmt.Errorf("search.params[%d]: bounds [%g, %g] are not increasing", i, p.Low, p.High)
		}
		if p.Dist == "loguniform" && p.Low <= 0 {
			return fmt.Errorf("search.params[%d]: loguniform lower bound %g must be positive", i, p.Low)
		}
	}

	for i, ex := range c.Data.Examples {
		if strings.TrimSpace(ex.Text) == "" {
			return fmt.Errorf("data.examples[%d].text is required", i)
		}
		if ex.Label < 0 || ex.Label >= c.Model.Classes {
			return fmt.Errorf("data.examples[%d].label %d outside [0, %d)", i, ex.Label, c.Model.Classes)
		}
	}

	switch c.Logging.Env {
	case "development", "production":
	default:
		return fmt.Errorf("logging.env must be \"development\" or \"production\", got %q", c.Logging.Env)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
