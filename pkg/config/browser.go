package config

import (
	"fmt"
	"sync"

	"github.com/entrhq/browseruse/pkg/browser"
)

// SectionIDBrowser is the identifier for the persisted browser defaults.
const SectionIDBrowser = "browser"

// BrowserSection holds the browser settings persisted between runs. Session
// only values such as remote URLs and proxy credentials are not stored.
type BrowserSection struct {
	BinaryPath             string             `json:"browser_binary_path"`
	Engine                 browser.EngineKind `json:"browser_class"`
	Headless               bool               `json:"headless"`
	DisableSecurity        bool               `json:"disable_security"`
	DeterministicRendering bool               `json:"deterministic_rendering"`
	KeepAlive              bool               `json:"keep_alive"`
	ExtraArgs              []string           `json:"extra_browser_args"`
	UserDataDir            string             `json:"user_data_dir"`
	ProfileDirectory       string             `json:"profile_directory"`
	ProxyServer            string             `json:"proxy_server"`
	ProxyBypass            string             `json:"proxy_bypass"`
	mu                     sync.RWMutex
}

// NewBrowserSection creates a section holding the browser defaults.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.reset()
	return s
}

// ID returns the section identifier.
func (s *BrowserSection) ID() string {
	return SectionIDBrowser
}

// Title returns the section title.
func (s *BrowserSection) Title() string {
	return "Browser Settings"
}

// Description returns the section description.
func (s *BrowserSection) Description() string {
	return "Default engine, launch flags, profile location and proxy used when a run does not override them."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"browser_binary_path":     s.BinaryPath,
		"browser_class":           string(s.Engine),
		"headless":                s.Headless,
		"disable_security":        s.DisableSecurity,
		"deterministic_rendering": s.DeterministicRendering,
		"keep_alive":              s.KeepAlive,
		"extra_browser_args":      append([]string(nil), s.ExtraArgs...),
		"user_data_dir":           s.UserDataDir,
		"profile_directory":       s.ProfileDirectory,
		"proxy_server":            s.ProxyServer,
		"proxy_bypass":            s.ProxyBypass,
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "browser_binary_path":
			err = setString(key, value, &s.BinaryPath)
		case "browser_class":
			var engine string
			if err = setString(key, value, &engine); err == nil {
				s.Engine = browser.EngineKind(engine)
			}
		case "headless":
			err = setBool(key, value, &s.Headless)
		case "disable_security":
			err = setBool(key, value, &s.DisableSecurity)
		case "deterministic_rendering":
			err = setBool(key, value, &s.DeterministicRendering)
		case "keep_alive":
			err = setBool(key, value, &s.KeepAlive)
		case "extra_browser_args":
			err = setStrings(key, value, &s.ExtraArgs)
		case "user_data_dir":
			err = setString(key, value, &s.UserDataDir)
		case "profile_directory":
			err = setString(key, value, &s.ProfileDirectory)
		case "proxy_server":
			err = setString(key, value, &s.ProxyServer)
		case "proxy_bypass":
			err = setString(key, value, &s.ProxyBypass)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the current configuration.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Engine != "" && !s.Engine.Valid() {
		return fmt.Errorf("browser_class must be chromium, firefox or webkit, got %q", s.Engine)
	}
	if s.ProxyServer == "" && s.ProxyBypass != "" {
		return fmt.Errorf("proxy_bypass requires proxy_server")
	}
	if s.ProxyServer != "" {
		p := browser.ProxySettings{Server: s.ProxyServer, Bypass: s.ProxyBypass}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *BrowserSection) reset() {
	d := browser.DefaultConfig()
	s.BinaryPath = d.BinaryPath
	s.Engine = d.Engine
	s.Headless = d.Headless
	s.DisableSecurity = d.DisableSecurity
	s.DeterministicRendering = d.DeterministicRendering
	s.KeepAlive = d.KeepAlive
	s.ExtraArgs = nil
	s.UserDataDir = ""
	s.ProfileDirectory = ""
	s.ProxyServer = ""
	s.ProxyBypass = ""
}

// Apply copies the persisted values onto cfg.
func (s *BrowserSection) Apply(cfg *browser.Config) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg.BinaryPath = s.BinaryPath
	if s.Engine != "" {
		cfg.Engine = s.Engine
	}
	cfg.Headless = s.Headless
	cfg.DisableSecurity = s.DisableSecurity
	cfg.DeterministicRendering = s.DeterministicRendering
	cfg.KeepAlive = s.KeepAlive
	cfg.ExtraArgs = append([]string(nil), s.ExtraArgs...)
	cfg.UserDataDir = s.UserDataDir
	cfg.ProfileDirectory = s.ProfileDirectory
	if s.ProxyServer != "" {
		cfg.Proxy = &browser.ProxySettings{Server: s.ProxyServer, Bypass: s.ProxyBypass}
	}
}

// Capture records the persistable parts of cfg.
func (s *BrowserSection) Capture(cfg browser.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BinaryPath = cfg.BinaryPath
	s.Engine = cfg.Engine
	s.Headless = cfg.Headless
	s.DisableSecurity = cfg.DisableSecurity
	s.DeterministicRendering = cfg.DeterministicRendering
	s.KeepAlive = cfg.KeepAlive
	s.ExtraArgs = append([]string(nil), cfg.ExtraArgs...)
	s.UserDataDir = cfg.UserDataDir
	s.ProfileDirectory = cfg.ProfileDirectory
	s.ProxyServer, s.ProxyBypass = "", ""
	if cfg.Proxy != nil {
		s.ProxyServer = cfg.Proxy.Server
		s.ProxyBypass = cfg.Proxy.Bypass
	}
}

func setString(key string, value interface{}, dst *string) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("invalid value type for %s: expected string, got %T", key, value)
	}
	*dst = v
	return nil
}

func setBool(key string, value interface{}, dst *bool) error {
	v, ok := value.(bool)
	if !ok {
		return fmt.Errorf("invalid value type for %s: expected bool, got %T", key, value)
	}
	*dst = v
	return nil
}

// setStrings accepts []string from callers and []interface{} from JSON.
func setStrings(key string, value interface{}, dst *[]string) error {
	switch v := value.(type) {
	case []string:
		*dst = append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("invalid value type for %s[%d]: expected string, got %T", key, i, item)
			}
			out = append(out, str)
		}
		*dst = out
	case nil:
		*dst = nil
	default:
		return fmt.Errorf("invalid value type for %s: expected list of strings, got %T", key, value)
	}
	return nil
}
