// Package config loads gpuwatch settings from defaults, a YAML file, a
// dotenv file and GPUWATCH_* environment variables.
package config

// Config is the complete configuration for the train and score commands.
type Config struct {
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Output    OutputConfig    `mapstructure:"output"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Model     ModelConfig     `mapstructure:"model"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatasetConfig locates the gold daily table.
type DatasetConfig struct {
	// Location is a CSV path, a SQLite file (*.db or sqlite://path) or a
	// postgres:// URL.
	Location string `mapstructure:"location"`

	// Table is ignored for CSV locations.
	Table string `mapstructure:"table"`
}

// OutputConfig locates the scored table. An empty Location writes next to
// the dataset.
type OutputConfig struct {
	Location string `mapstructure:"location"`
	Table    string `mapstructure:"table"`
}

// ArtifactsConfig locates the fitted scaler and model.
type ArtifactsConfig struct {
	// Location is a directory or s3://bucket/prefix.
	Location string   `mapstructure:"location"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config holds object store credentials, used for s3:// locations only.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ModelConfig holds the outlier model hyperparameters.
type ModelConfig struct {
	NEstimators   int     `mapstructure:"n_estimators"`
	Contamination float64 `mapstructure:"contamination"`
	RandomSeed    int64   `mapstructure:"random_seed"`
	MaxSamples    int     `mapstructure:"max_samples"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	// File enables rotated file output instead of stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls batch metrics export.
type MetricsConfig struct {
	// Textfile is written in the node-exporter textfile format after each
	// run. Empty disables export.
	Textfile string `mapstructure:"textfile"`
}

// OutputLocation returns where scored rows are written.
func (c *Config) OutputLocation() string {
	if c.Output.Location != "" {
		return c.Output.Location
	}
	return c.Dataset.Location
}
