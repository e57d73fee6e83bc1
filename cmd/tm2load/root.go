package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gyeh/tm2ingest/internal/config"
)

var (
	cfg        = config.Default()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tm2load",
	Short: "TM2 traditional-medicine diagnosis loader",
	Long: "Validates tabular TM2 diagnosis records, maps them to ICD-11 TM2 descriptors, " +
		"stages them in Postgres and submits each one exactly once to OpenMRS.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfigFile,
}

func init() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML file with pipeline settings; explicit flags win")
	pf.StringVar(&cfg.DSN, "dsn", os.Getenv("TM2_DB_URL"), "Postgres connection string (or set TM2_DB_URL)")
	pf.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", cfg.LogFormat), "Log format: text or json")
	pf.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", cfg.LogLevel), "Log level: debug, info, warn, error")

	pf.StringVar(&cfg.StoreKind, "store", cfg.StoreKind, "Staging store: memory or postgres")
	pf.StringVar(&cfg.DownstreamKind, "downstream", cfg.DownstreamKind, "Downstream: memory or openmrs")
	pf.StringVar(&cfg.MappingsPath, "mappings", "", "TM2 mapping table YAML (default: ref.tm2_mappings in postgres)")
	pf.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Rows processed concurrently")
	pf.DurationVar(&cfg.SubmitTimeout, "submit-timeout", cfg.SubmitTimeout, "Deadline for one downstream submission")
	pf.Float64Var(&cfg.SubmitRate, "submit-rate", envFloat("OPENMRS_RATE_PER_SECOND", 0), "Max downstream requests per second (0 = unlimited)")
	pf.Int64Var(&cfg.MaxFileBytes, "max-file-bytes", cfg.MaxFileBytes, "Largest input file accepted")

	pf.StringVar(&cfg.OpenMRSBaseURL, "openmrs-url", os.Getenv("OPENMRS_BASE_URL"), "OpenMRS base URL (or set OPENMRS_BASE_URL)")
	pf.StringVar(&cfg.OpenMRSUsername, "openmrs-user", os.Getenv("OPENMRS_USERNAME"), "OpenMRS user (or set OPENMRS_USERNAME)")
	pf.StringVar(&cfg.OpenMRSPassword, "openmrs-password", os.Getenv("OPENMRS_PASSWORD"), "OpenMRS password (or set OPENMRS_PASSWORD)")

	pf.StringVar(&cfg.RedisAddr, "redis-addr", os.Getenv("TM2_REDIS_ADDR"), "Redis address for cross-process key locks (or set TM2_REDIS_ADDR)")
	pf.DurationVar(&cfg.LockTTL, "lock-ttl", cfg.LockTTL, "Redis key lock TTL; must exceed --submit-timeout")
}

// loadConfigFile merges --config into cfg without overriding flags given
// on the command line.
func loadConfigFile(cmd *cobra.Command, _ []string) error {
	if configPath == "" {
		return nil
	}
	explicit := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	if err := cfg.LoadFromFile(configPath); err != nil {
		return err
	}
	for name, v := range explicit {
		if err := cmd.Flags().Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}
