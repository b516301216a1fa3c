package config

import (
	"fmt"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every browser variable, e.g. BROWSERUSE_CDP_URL.
const EnvPrefix = "browseruse"

// Env is the browser overlay read from the environment. Unset variables
// leave the zero value, or nil for the booleans, and are not applied.
type Env struct {
	CdpURL                 string   `split_words:"true"`
	WssURL                 string   `split_words:"true"`
	BinaryPath             string   `split_words:"true"`
	BrowserClass           string   `split_words:"true"`
	Headless               *bool    `split_words:"true"`
	DisableSecurity        *bool    `split_words:"true"`
	DeterministicRendering *bool    `split_words:"true"`
	KeepAlive              *bool    `split_words:"true"`
	UserDataDir            string   `split_words:"true"`
	ProfileDirectory       string   `split_words:"true"`
	Proxy                  string   `split_words:"true"`
	ProxyBypass            string   `split_words:"true"`
	ExtraArgs              []string `split_words:"true"`

	// Containerized mirrors IN_DOCKER.
	Containerized bool `ignored:"true"`
}

// LoadEnv reads the BROWSERUSE_* variables and IN_DOCKER.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	env.Containerized = launch.InContainer()
	return &env, nil
}

// Apply overlays the variables that were set onto cfg.
func (e *Env) Apply(cfg *browser.Config) {
	if e.CdpURL != "" {
		cfg.CDPURL = e.CdpURL
	}
	if e.WssURL != "" {
		cfg.WSSURL = e.WssURL
	}
	if e.BinaryPath != "" {
		cfg.BinaryPath = e.BinaryPath
	}
	if e.BrowserClass != "" {
		cfg.Engine = browser.EngineKind(e.BrowserClass)
	}
	applyBool(e.Headless, &cfg.Headless)
	applyBool(e.DisableSecurity, &cfg.DisableSecurity)
	applyBool(e.DeterministicRendering, &cfg.DeterministicRendering)
	applyBool(e.KeepAlive, &cfg.KeepAlive)
	if e.UserDataDir != "" {
		cfg.UserDataDir = e.UserDataDir
	}
	if e.ProfileDirectory != "" {
		cfg.ProfileDirectory = e.ProfileDirectory
	}
	if e.Proxy != "" {
		cfg.Proxy = &browser.ProxySettings{Server: e.Proxy, Bypass: e.ProxyBypass}
	}
	if len(e.ExtraArgs) > 0 {
		cfg.ExtraArgs = append([]string(nil), e.ExtraArgs...)
	}
}

func applyBool(v *bool, dst *bool) {
	if v != nil {
		*dst = *v
	}
}
