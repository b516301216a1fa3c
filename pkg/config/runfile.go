package config

import (
	"fmt"
	"os"
	"time"

	"github.com/entrhq/browseruse/pkg/browser"
	"gopkg.in/yaml.v3"
)

// RunFile is a YAML description of one browser run. Browser keys sit at the
// top level next to the run keys:
//
//	browser_class: chromium
//	headless: true
//	chrome_instance_path: /usr/bin/google-chrome
//	new_context_config:
//	  timeout: 45s
//	url: https://example.com
//	hold: 30s
type RunFile struct {
	Browser browser.Config `yaml:",inline"`

	// URL is opened in the first page once the browser is up.
	URL string `yaml:"url,omitempty"`

	// Hold keeps the browser open for this long before closing.
	Hold time.Duration `yaml:"hold,omitempty"`
}

// binaryAliases are accepted for browser_binary_path, in priority order.
type binaryAliases struct {
	BinaryPath   *string `yaml:"browser_binary_path"`
	InstancePath string  `yaml:"browser_instance_path"`
	ChromePath   string  `yaml:"chrome_instance_path"`
}

// LoadRunFile reads the run file at path. Keys absent from the file keep
// their value from base.
func LoadRunFile(path string, base browser.Config) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	return ParseRunFile(data, base)
}

// ParseRunFile decodes run file contents onto a copy of base.
func ParseRunFile(data []byte, base browser.Config) (*RunFile, error) {
	rf := &RunFile{Browser: cloneConfig(base)}
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}

	var aliases binaryAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}
	if aliases.BinaryPath == nil {
		switch {
		case aliases.InstancePath != "":
			rf.Browser.BinaryPath = aliases.InstancePath
		case aliases.ChromePath != "":
			rf.Browser.BinaryPath = aliases.ChromePath
		}
	}

	return rf, nil
}

// cloneConfig copies the pointer and slice fields so decoding into the copy
// leaves base untouched.
func cloneConfig(c browser.Config) browser.Config {
	if c.Proxy != nil {
		p := *c.Proxy
		c.Proxy = &p
	}
	if c.Context.Viewport != nil {
		v := *c.Context.Viewport
		c.Context.Viewport = &v
	}
	c.ExtraArgs = append([]string(nil), c.ExtraArgs...)
	return c
}
