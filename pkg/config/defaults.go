package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Location: "telemetry.db",
			Table:    "gold_cluster_util_daily",
		},
		Output: OutputConfig{
			Table: "gold_cluster_util_daily_scored",
		},
		Artifacts: ArtifactsConfig{
			Location: "ml",
			S3: S3Config{
				Region: "us-east-1",
				UseSSL: true,
			},
		},
		Model: ModelConfig{
			NEstimators:   100,
			Contamination: 0.05,
			RandomSeed:    42,
			MaxSamples:    256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100, // megabytes
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}
