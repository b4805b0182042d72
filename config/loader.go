package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// DefaultEnvPrefix prefixes environment overrides:
// FLOWKIT_RETRY_MAX_RETRIES overrides retry.max_retries.
const DefaultEnvPrefix = "FLOWKIT"

// Environment variables naming explicit files; they win over the search.
const (
	ConfigFileEnv = "FLOWKIT_CONFIG"
	EnvFileEnv    = "FLOWKIT_ENV_FILE"
)

// FileSystem abstracts the file checks the loader makes.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem on the OS.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver finds the config and .env files for a service.
type Resolver struct {
	FileSystem FileSystem
	// Getenv reads the file override variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles picks, in order: the explicit option, the FLOWKIT_CONFIG /
// FLOWKIT_ENV_FILE variables, then the first existing candidate in the
// working directory and ./config.
func (r *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	files := ResolvedFiles{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile}
	if files.ConfigFile == "" {
		files.ConfigFile = getenv(ConfigFileEnv)
	}
	if files.ConfigFile == "" {
		files.ConfigFile = r.first(configCandidates(serviceName))
	}
	if files.EnvFile == "" {
		files.EnvFile = getenv(EnvFileEnv)
	}
	if files.EnvFile == "" {
		files.EnvFile = r.first(envCandidates(serviceName))
	}
	return files
}

func (r *Resolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// configCandidates lists <service>.yml then flowkit.yml, each also as .yaml,
// in . and ./config.
func configCandidates(serviceName string) []string {
	names := []string{"flowkit"}
	if serviceName != "" && serviceName != "flowkit" {
		names = []string{serviceName, "flowkit"}
	}
	var out []string
	for _, dir := range []string{".", "config"} {
		for _, name := range names {
			for _, ext := range []string{".yml", ".yaml"} {
				out = append(out, filepath.Join(dir, name+ext))
			}
		}
	}
	return out
}

func envCandidates(serviceName string) []string {
	var out []string
	for _, dir := range []string{".", "config"} {
		if serviceName != "" {
			out = append(out, filepath.Join(dir, ".env."+serviceName))
		}
		out = append(out, filepath.Join(dir, ".env"))
	}
	return out
}

// LoaderConfig holds dependencies and optional overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	Getenv     func(string) string
	ConfigFile string
	EnvFile    string
	EnvPrefix  string
	Logger     *logger.Logger
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix replaces DefaultEnvPrefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// WithLogger sets the logger used for load warnings.
func WithLogger(log *logger.Logger) LoaderOption {
	return func(lc *LoaderConfig) { lc.Logger = log }
}

// LoadConfig loads configuration for a service into cfg, a pointer to a
// struct with yaml and mapstructure tags. Values come from the resolved
// config file, then the environment: .env entries first populate it, and
// <PREFIX>_<SECTION>_<KEY> variables override any key cfg declares, present
// in the file or not.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{EnvPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = RealFileSystem{}
	}
	log := logger.OrNop(lc.Logger).WithComponent("config")

	resolver := &Resolver{FileSystem: lc.FileSystem, Getenv: lc.Getenv}
	files := resolver.ResolveFiles(serviceName, lc)

	v := viper.New()
	v.SetConfigType("yaml")
	// Seed every key of cfg so environment overrides apply to keys the file omits.
	if keys, err := yaml.Marshal(cfg); err == nil {
		if err := v.ReadConfig(bytes.NewReader(keys)); err != nil {
			log.Debug("config keys not seeded", logger.Fields(logger.FieldError, err.Error()))
		}
	}

	if files.ConfigFile != "" {
		if lc.FileSystem.Exists(files.ConfigFile) {
			v.SetConfigFile(files.ConfigFile)
			if err := v.MergeInConfig(); err != nil {
				log.Warn("failed to load config file", logger.Fields("file", files.ConfigFile, logger.FieldError, err.Error()))
			}
		} else {
			log.Warn("config file not found", logger.Fields("file", files.ConfigFile))
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			log.Warn("failed to load .env file", logger.Fields("file", files.EnvFile, logger.FieldError, err.Error()))
		}
	}

	v.SetEnvPrefix(lc.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return apperrors.Configurationf("failed to unmarshal config for service %s", serviceName).WithCause(err)
	}

	log.Debug("configuration loaded", logger.Fields("config_file", files.ConfigFile, "env_file", files.EnvFile))
	return nil
}
