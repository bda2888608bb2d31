package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tune.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "model:\n  heads: 8\n  hidden_dim: 96\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Heads != 8 || cfg.Model.HiddenDim != 96 {
		t.Fatalf("explicit values lost: %+v", cfg.Model)
	}
	if cfg.Model.FFNDim != 128 || cfg.Model.Summary != "mean" {
		t.Fatalf("model defaults missing: %+v", cfg.Model)
	}
	if cfg.Search.Trials != 20 || cfg.Search.Sampler != "random" || cfg.Search.Workers != 1 {
		t.Fatalf("search defaults missing: %+v", cfg.Search)
	}
	if len(cfg.Search.Params) != 2 || cfg.Search.Params[0].Name != "lr" {
		t.Fatalf("default search params missing: %+v", cfg.Search.Params)
	}
	if len(cfg.Data.Examples) == 0 {
		t.Fatal("default examples missing")
	}
	if cfg.Output.Results != "results.json" {
		t.Fatalf("output default missing: %q", cfg.Output.Results)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TUNE_TRIALS", "33")
	path := writeConfig(t, strings.Join([]string{
		"search:",
		"  trials: ${TUNE_TRIALS}",
		"  sampler: ${TUNE_SAMPLER:-grid}",
		"output:",
		"  results: ${TUNE_OUT:-out/results.json}",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.Trials != 33 {
		t.Fatalf("env var not expanded: trials = %d", cfg.Search.Trials)
	}
	if cfg.Search.Sampler != "grid" {
		t.Fatalf("default expansion failed: sampler = %q", cfg.Search.Sampler)
	}
	if cfg.Output.Results != "out/results.json" {
		t.Fatalf("default expansion failed: results = %q", cfg.Output.Results)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		frag   string
	}{
		{"heads do not divide", func(c *Config) { c.Model.HiddenDim = 30; c.Model.Heads = 4 }, "hidden_dim"},
		{"one class", func(c *Config) { c.Model.Classes = 1; c.Data.Examples = []ExampleConfig{{Text: "x", Label: 0}} }, "classes"},
		{"bad summary", func(c *Config) { c.Model.Summary = "pool" }, "summary"},
		{"patch does not divide", func(c *Config) { c.Model.Image.Size = 50; c.Model.Image.Patch = 16 }, "patch"},
		{"bad sampler", func(c *Config) { c.Search.Sampler = "anneal" }, "sampler"},
		{"unnamed param", func(c *Config) { c.Search.Params[0].Name = "" }, "name"},
		{"bad dist", func(c *Config) { c.Search.Params[0].Dist = "normal" }, "dist"},
		{"inverted bounds", func(c *Config) { c.Search.Params[0].Low = 1; c.Search.Params[0].High = 0.5 }, "bounds"},
		{"log bound zero", func(c *Config) { c.Search.Params[0].Low = 0 }, "positive"},
		{"blank text", func(c *Config) { c.Data.Examples[0].Text = "  " }, "text"},
		{"label out of range", func(c *Config) { c.Data.Examples[0].Label = 99 }, "label"},
		{"bad logging env", func(c *Config) { c.Logging.Env = "staging" }, "logging.env"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: validation passed", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.frag) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.frag)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "model:\n  hidden_dim: 30\n  heads: 4\n")
	if _, err := Load(path); err == nil {
		t.Fatal("invalid config must fail at load")
	}
}
