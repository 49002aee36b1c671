package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores (GPUWATCH_MODEL_N_ESTIMATORS).
const EnvPrefix = "GPUWATCH"

// Loader resolves configuration. Precedence, highest first: bound flags,
// environment, config file, defaults.
type Loader struct {
	configFile string
	envFile    string
	viper      *viper.Viper
}

// NewLoader returns a loader. configFile and envFile are optional.
func NewLoader(configFile, envFile string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	l := &Loader{configFile: configFile, envFile: envFile, viper: v}
	l.setDefaults()
	return l
}

// Viper exposes the underlying instance so callers can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// Load reads every source and validates the result.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("error loading env file %s: %w", l.envFile, err)
		}
	}

	if l.configFile != "" {
		l.viper.SetConfigFile(l.configFile)
		if err := l.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}

	return cfg, nil
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()
	v := l.viper

	v.SetDefault("dataset.location", d.Dataset.Location)
	v.SetDefault("dataset.table", d.Dataset.Table)

	v.SetDefault("output.location", d.Output.Location)
	v.SetDefault("output.table", d.Output.Table)

	v.SetDefault("artifacts.location", d.Artifacts.Location)
	v.SetDefault("artifacts.s3.endpoint", d.Artifacts.S3.Endpoint)
	v.SetDefault("artifacts.s3.access_key", d.Artifacts.S3.AccessKey)
	v.SetDefault("artifacts.s3.secret_key", d.Artifacts.S3.SecretKey)
	v.SetDefault("artifacts.s3.region", d.Artifacts.S3.Region)
	v.SetDefault("artifacts.s3.use_ssl", d.Artifacts.S3.UseSSL)

	v.SetDefault("model.n_estimators", d.Model.NEstimators)
	v.SetDefault("model.contamination", d.Model.Contamination)
	v.SetDefault("model.random_seed", d.Model.RandomSeed)
	v.SetDefault("model.max_samples", d.Model.MaxSamples)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}
