package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the pipeline binaries.
type Config struct {
	// MirrorURL is the directory listing where release artifacts are hosted.
	MirrorURL string `yaml:"mirror_url"`
	// WorkDir is the directory holding artifacts, manifests, keyring and checkpoints.
	WorkDir string `yaml:"work_dir"`
	// ArtifactPattern matches candidate artifact filenames in the mirror listing.
	// Capture group 1 must be the version.
	ArtifactPattern string `yaml:"artifact_pattern"`
	// ChecksumManifests lists manifest filenames in preference order, strongest first.
	ChecksumManifests []string `yaml:"checksum_manifests"`
	// Keyservers lists keyservers tried in order when importing trusted keys.
	Keyservers []string `yaml:"keyservers"`
	// TrustedKeys lists hex fingerprints of keys allowed to sign checksum manifests.
	TrustedKeys []string `yaml:"trusted_keys"`
	// KeyringFile is the armored keyring of imported trusted keys, relative to WorkDir.
	KeyringFile string `yaml:"keyring_file"`
	// Timeout bounds every single network call.
	Timeout time.Duration `yaml:"timeout"`
}

const (
	// DefaultConfigFilename is the default filename for pipeline settings.
	DefaultConfigFilename = "iso-verifier-settings.yaml"

	// DefaultMirrorURL points at the Debian amd64 netinst ISO directory.
	DefaultMirrorURL = "https://cdimage.debian.org/debian-cd/current/amd64/iso-cd/"

	// DefaultArtifactPattern matches Debian netinst ISO names; group 1 is the version.
	DefaultArtifactPattern = `debian-(\d+(?:\.\d+)*)-amd64-netinst\.iso`

	// DefaultKeyringFilename stores imported trusted keys in armored form.
	DefaultKeyringFilename = "trusted-keys.asc"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 30 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errMirrorRequired is returned when the mirror URL is missing.
	errMirrorRequired = errors.New("mirror URL must be provided")
	// errPatternGroup is returned when the artifact pattern has no version capture group.
	errPatternGroup = errors.New("artifact pattern must capture the version as group 1")
)

// DefaultChecksumManifests returns manifest names in preference order, strongest digest first.
func DefaultChecksumManifests() []string {
	return []string{"SHA512SUMS", "SHA256SUMS"}
}

// DefaultKeyservers returns the keyservers tried, in order, for key imports.
func DefaultKeyservers() []string {
	return []string{"https://keyring.debian.org", "https://keyserver.ubuntu.com"}
}

// DefaultTrustedKeys returns fingerprints of the Debian CD signing keys.
func DefaultTrustedKeys() []string {
	return []string{
		"DF9B9C49EAA9298432589D76DA87E80D6294BE9B",
		"F41D30342F3546695F65C66942468F4009EA8AC3",
		"10460DAD76165AD81FBC0CE9988021A964E6EA7D",
	}
}

// Default returns a configuration populated with every default value.
func Default() *Config {
	cfg := new(Config)
	// Validate fills the defaults and cannot fail on an empty mirror once set.
	cfg.MirrorURL = DefaultMirrorURL
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.MirrorURL == "" {
		return errMirrorRequired
	}

	if _, err := url.ParseRequestURI(cfg.MirrorURL); err != nil {
		return fmt.Errorf("invalid mirror URL: %w", err)
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}

	if cfg.ArtifactPattern == "" {
		cfg.ArtifactPattern = DefaultArtifactPattern
	}

	pattern, err := regexp.Compile(cfg.ArtifactPattern)
	if err != nil {
		return fmt.Errorf("invalid artifact pattern: %w", err)
	}

	if pattern.NumSubexp() < 1 {
		return errPatternGroup
	}

	if len(cfg.ChecksumManifests) == 0 {
		cfg.ChecksumManifests = DefaultChecksumManifests()
	}

	if len(cfg.Keyservers) == 0 {
		cfg.Keyservers = DefaultKeyservers()
	}

	if len(cfg.TrustedKeys) == 0 {
		cfg.TrustedKeys = DefaultTrustedKeys()
	}

	if cfg.KeyringFile == "" {
		cfg.KeyringFile = DefaultKeyringFilename
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return nil
}
