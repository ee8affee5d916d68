package main

import (
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the optional single-file configuration schema. Nested
// sections map naturally onto the flag names.
type FileConfig struct {
	LLM struct {
		BaseURL    string `yaml:"base"`
		APIKey     string `yaml:"key"`
		Model      string `yaml:"model"`
		EmbedModel string `yaml:"embedModel"`
	} `yaml:"llm"`

	Serp struct {
		URL      string `yaml:"url"`
		Key      string `yaml:"key"`
		Depth    int    `yaml:"depth"`
		Country  string `yaml:"country"`
		Language string `yaml:"language"`
	} `yaml:"serp"`

	Headless struct {
		URL string `yaml:"url"`
	} `yaml:"headless"`

	Reader struct {
		URL string `yaml:"url"`
	} `yaml:"reader"`

	Unlocker struct {
		Endpoint string `yaml:"endpoint"`
		Key      string `yaml:"key"`
		Zone     string `yaml:"zone"`
	} `yaml:"unlocker"`

	Cache struct {
		Path   string        `yaml:"path"`
		MaxAge time.Duration `yaml:"maxAge"`
	} `yaml:"cache"`

	Max struct {
		Queries     int `yaml:"queries"`
		Candidates  int `yaml:"candidates"`
		Pages       int `yaml:"pages"`
		Chunks      int `yaml:"chunks"`
		PerDomain   int `yaml:"perDomain"`
		PerURL      int `yaml:"perURL"`
		PageTimeout int `yaml:"pageTimeoutSeconds"`
	} `yaml:"max"`

	// Pointers distinguish "absent" from an explicit false, so a config file
	// can disable flags whose command-line default is true.
	Retry     *bool `yaml:"retry"`
	AllowSkip *bool `yaml:"allowSkip"`
	Verbose   *bool `yaml:"verbose"`
}

// LoadConfigFile reads a YAML config into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// applyString fills dst from src only when the flag left dst at its default.
func applyString(dst *string, def, src string) {
	if *dst == def && src != "" {
		*dst = src
	}
}

func applyInt(dst *int, def, src int) {
	if *dst == def && src > 0 {
		*dst = src
	}
}

// applyBool fills dst from src unless the flag was set on the command line.
func applyBool(dst *bool, flagSet bool, src *bool) {
	if src != nil && !flagSet {
		*dst = *src
	}
}
