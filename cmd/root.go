package cmd

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/jobmatch/internal/logger"
	"go.uber.org/zap"
)

const (
	app = "jobmatch"
)

type Config struct {
	Server    *ServerConfig    `mapstructure:"server"`
	Database  *DatabaseConfig  `mapstructure:"database"`
	Cache     *CacheConfig     `mapstructure:"cache"`
	AI        *AIConfig        `mapstructure:"ai"`
	Matching  *MatchingConfig  `mapstructure:"matching"`
	Client    *ClientConfig    `mapstructure:"client"`
	Interview *InterviewConfig `mapstructure:"interview"`
	Log       *LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Listen            string        `mapstructure:"listen"`
	ChatRate          float64       `mapstructure:"chat-rate"`
	ChatBurst         int           `mapstructure:"chat-burst"`
	FrameRate         float64       `mapstructure:"frame-rate"`
	FrameBurst        int           `mapstructure:"frame-burst"`
	MaxBodyBytes      int64         `mapstructure:"max-body-bytes"`
	MaxUploadBytes    int64         `mapstructure:"max-upload-bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout"`
	TrustForwardedFor bool          `mapstructure:"trust-forwarded-for"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	URLFile  string `mapstructure:"url-file"`
	MaxConns int32  `mapstructure:"max-conns"`
	SeedFile string `mapstructure:"seed-file"`
}

type CacheConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	PasswordFile string        `mapstructure:"password-file"`
	DB           int           `mapstructure:"db"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type AIConfig struct {
	Provider        string        `mapstructure:"provider"`
	MinimumFitScore float64       `mapstructure:"minimum-fit-score"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey        string        `mapstructure:"api-key"`
	APIKeyFile    string        `mapstructure:"api-key-file"`
	Model         string        `mapstructure:"model"`
	VisionModel   string        `mapstructure:"vision-model"`
	MaxRetries    int           `mapstructure:"max-retries"`
	MaxQuotaDelay time.Duration `mapstructure:"max-quota-delay"`
	MaxLogLength  int           `mapstructure:"max-log-length"`
}

type MatchingConfig struct {
	SkillsOverlap bool `mapstructure:"skills-overlap"`
	AIFit         bool `mapstructure:"ai-fit"`
	Concurrency   int  `mapstructure:"concurrency"`
}

type ClientConfig struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type InterviewConfig struct {
	FrameDir      string        `mapstructure:"frame-dir"`
	FrameInterval time.Duration `mapstructure:"frame-interval"`
	ChatRate      float64       `mapstructure:"chat-rate"`
	ChatBurst     int           `mapstructure:"chat-burst"`
	MaxRetries    int           `mapstructure:"max-retries"`
	MaxDelay      time.Duration `mapstructure:"max-delay"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobmatch is a job-matching backend with AI CV analysis, match scoring and interview practice",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

var envBindings = map[string]string{
	"ai.gemini.api-key-file": "GEMINI_API_KEY_FILE",
	"ai.gemini.api-key":      "GEMINI_API_KEY",
	"database.url":           "DATABASE_URL",
	"cache.addr":             "REDIS_ADDR",
	"cache.password":         "REDIS_PASSWORD",
	"client.server":          "JOBMATCH_SERVER",
}

func init() {
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobmatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.chat-rate", 1.0)
	viper.SetDefault("server.chat-burst", 5)
	viper.SetDefault("server.frame-rate", 0.5)
	viper.SetDefault("server.frame-burst", 2)
	viper.SetDefault("server.shutdown-timeout", "10s")

	viper.SetDefault("database.max-conns", 10)
	viper.SetDefault("cache.ttl", "24h")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.minimum-fit-score", 50)
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.max-quota-delay", "30s")

	viper.SetDefault("matching.skills-overlap", true)
	viper.SetDefault("matching.ai-fit", true)
	viper.SetDefault("matching.concurrency", 4)

	viper.SetDefault("client.server", "http://localhost:8080")
	viper.SetDefault("client.timeout", "2m")

	viper.SetDefault("interview.frame-interval", "10s")
	viper.SetDefault("interview.chat-rate", 0.5)
	viper.SetDefault("interview.chat-burst", 1)
	viper.SetDefault("interview.max-retries", 3)
	viper.SetDefault("interview.max-delay", "30s")

	viper.SetDefault("log.max-size-mb", 50)
	viper.SetDefault("log.max-backups", 5)
	viper.SetDefault("log.max-age-days", 14)
}

func initConfig() {
	// The version command works without any configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	// Values from .env never override the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return
	}

	// We can't proceed if the config file parsed with error.
	if err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	config.fillEmpty()

	return config, nil
}

// fillEmpty makes every section non-nil so callers do not have to check.
func (c *Config) fillEmpty() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}
	if c.AI == nil {
		c.AI = &AIConfig{}
	}
	if c.AI.Gemini == nil {
		c.AI.Gemini = &GeminiConfig{}
	}
	if c.Matching == nil {
		c.Matching = &MatchingConfig{}
	}
	if c.Client == nil {
		c.Client = &ClientConfig{}
	}
	if c.Interview == nil {
		c.Interview = &InterviewConfig{}
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
}

// bootstrap loads the config and builds the logger. Both failures are fatal.
func bootstrap() (*Config, *zap.Logger) {
	config, err := getConfig()
	if err != nil {
		log.Fatalf("getting a config: %s", err)
	}

	l, err := logger.NewWithOptions(logger.Options{
		JSON:       viper.GetBool("json"),
		Debug:      viper.GetBool("debug"),
		File:       config.Log.File,
		MaxSizeMB:  config.Log.MaxSizeMB,
		MaxBackups: config.Log.MaxBackups,
		MaxAgeDays: config.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	return config, l
}
