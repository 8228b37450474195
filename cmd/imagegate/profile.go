package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const defaultProfile = "default"

// profile is one named server plus the generation options applied when the
// matching flags are not given.
type profile struct {
	BaseURL     string `yaml:"baseUrl"`
	Token       string `yaml:"token,omitempty"`
	Model       string `yaml:"model,omitempty"`
	Resolution  string `yaml:"resolution,omitempty"`
	AspectRatio string `yaml:"aspectRatio,omitempty"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

// active picks the profile name: explicit flag, IMAGEGATE_PROFILE, the stored
// current profile, then "default".
func (c cliConfig) active(flag string) string {
	for _, v := range []string{flag, os.Getenv("IMAGEGATE_PROFILE"), c.CurrentProfile} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return defaultProfile
}

// profileStore reads and writes the YAML profile file.
type profileStore struct {
	path string
}

// defaultStore honours IMAGEGATE_CONFIG_DIR, else ~/.imagegate.
func defaultStore() profileStore {
	dir := strings.TrimSpace(os.Getenv("IMAGEGATE_CONFIG_DIR"))
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".imagegate")
		} else {
			dir = "."
		}
	}
	return profileStore{path: filepath.Join(dir, "config.yaml")}
}

// load returns an empty config when the file does not exist yet.
func (s profileStore) load() (cliConfig, error) {
	cfg := cliConfig{Profiles: map[string]profile{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, nil
}

// save writes through a temp file so a crash never leaves half a config.
// Tokens live in the file, so it is private to the user.
func (s profileStore) save(cfg cliConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func maskToken(v string) string {
	switch v = strings.TrimSpace(v); {
	case v == "":
		return "<unset>"
	case len(v) <= 8:
		return "****"
	default:
		return v[:4] + "..." + v[len(v)-4:]
	}
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(readLine func() (string, error)) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine()
	}
	b, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
