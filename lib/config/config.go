// Package config loads the YAML configuration of the btr replay server.
//
// The file is named by the --config flag or, through Load, by the
// BTR_CONFIG environment variable. There is no discovery: a server runs
// with exactly the file it was given.
//
// A minimal file for the todo application:
//
//	addr: ":3000"
//	root: ${HOME}/todo/dist
//	state:
//	  file: state.json
//	  initial:
//	    items: []
//	    appTitle: Welcome
//	routes:
//	  - path: /
//	    protocol: index.streams.json
//	api:
//	  - method: POST
//	    path: /api/items
//	    key: items
//
// Relative file names are resolved against root. ${VAR} and
// ${VAR:-default} are expanded in root and in every file name.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "BTR_CONFIG"

// Config is the replay server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// Root is the application directory holding protocol files and
	// static assets.
	Root string `yaml:"root"`

	// Static serves Root for requests no route matches.
	Static bool `yaml:"static"`

	// Compress enables gzip responses.
	Compress bool `yaml:"compress"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`

	// Snapshot configures encoded protocol snapshots.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// State configures the state file routes replay against.
	State StateConfig `yaml:"state"`

	// Routes are the replayed pages.
	Routes []RouteConfig `yaml:"routes"`

	// API are endpoints that store a posted JSON body in the state.
	API []APIConfig `yaml:"api"`
}

// SnapshotConfig configures snapshot decoding.
type SnapshotConfig struct {
	// KeyEnv names the environment variable holding the snapshot key.
	// The key itself never appears in the file.
	KeyEnv string `yaml:"key_env"`

	// Mode is signed or sealed.
	Mode string `yaml:"mode"`
}

// StateConfig configures the state file.
type StateConfig struct {
	// File is the JSON state file. Empty means routes replay against
	// Initial only.
	File string `yaml:"file"`

	// Initial is the state used when File does not exist yet.
	Initial map[string]any `yaml:"initial"`
}

// RouteConfig is one replayed page. Exactly one of Protocol and Snapshot
// is set.
type RouteConfig struct {
	Method   string `yaml:"method"`
	Path     string `yaml:"path"`
	Protocol string `yaml:"protocol"`
	Snapshot string `yaml:"snapshot"`
}

// APIConfig is one state endpoint.
type APIConfig struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Key    string `yaml:"key"`
}

// Default returns the configuration every file is merged over.
func Default() *Config {
	return &Config{
		Addr:      ":3000",
		Root:      ".",
		Static:    true,
		Compress:  true,
		LogLevel:  "info",
		LogFormat: "text",
		Snapshot: SnapshotConfig{
			KeyEnv: "BTR_SNAPSHOT_KEY",
			Mode:   "signed",
		},
	}
}

// Load loads the file named by BTR_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your btr.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, expands variables and fills
// in route and endpoint defaults. It does not validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is LoadFile over file contents.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Root = expandVars(c.Root, vars)
	vars["BTR_ROOT"] = c.Root

	c.State.File = expandVars(c.State.File, vars)
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.Method == "" {
			r.Method = http.MethodGet
		}
		r.Method = strings.ToUpper(r.Method)
		r.Protocol = expandVars(r.Protocol, vars)
		r.Snapshot = expandVars(r.Snapshot, vars)
	}
	for i := range c.API {
		a := &c.API[i]
		if a.Method == "" {
			a.Method = http.MethodPost
		}
		a.Method = strings.ToUpper(a.Method)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, def := parts[1], parts[2]
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

// Resolve returns path joined to Root unless it is absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Root, path)
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SnapshotKey reads the snapshot key from the environment.
func (c *Config) SnapshotKey() ([]byte, error) {
	if c.Snapshot.KeyEnv == "" {
		return nil, errors.New("config: snapshot.key_env is empty")
	}
	key := os.Getenv(c.Snapshot.KeyEnv)
	if key == "" {
		return nil, fmt.Errorf("config: %s is not set", c.Snapshot.KeyEnv)
	}
	return []byte(key), nil
}

// UsesSnapshots reports whether any route reads a snapshot.
func (c *Config) UsesSnapshots() bool {
	for _, r := range c.Routes {
		if r.Snapshot != "" {
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors. Every problem is
// reported.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error: %q", c.LogLevel))
	}
	if !contains([]string{"text", "json"}, c.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format must be text or json: %q", c.LogFormat))
	}
	if !contains([]string{"signed", "sealed"}, c.Snapshot.Mode) {
		errs = append(errs, fmt.Errorf("snapshot.mode must be signed or sealed: %q", c.Snapshot.Mode))
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("at least one route is required"))
	}

	seen := make(map[string]bool)
	claim := func(field, method, path string) {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Errorf("%s: path must start with /: %q", field, path))
		}
		key := method + " " + path
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s: duplicate route %s", field, key))
		}
		seen[key] = true
	}

	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		claim(field, r.Method, r.Path)
		if (r.Protocol == "") == (r.Snapshot == "") {
			errs = append(errs, fmt.Errorf("%s: exactly one of protocol and snapshot is required", field))
		}
	}
	for i, a := range c.API {
		field := fmt.Sprintf("api[%d]", i)
		claim(field, a.Method, a.Path)
		if a.Key == "" {
			errs = append(errs, fmt.Errorf("%s: key is required", field))
		}
		if c.State.File == "" {
			errs = append(errs, fmt.Errorf("%s: state.file is required to store posted values", field))
		}
	}

	return errors.Join(errs...)
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
