package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/kiliankoe/chartrecall/internal/experiment"
)

type Config struct {
	Port string `mapstructure:"port"`

	StimuliFile   string `mapstructure:"stimuli_file"`
	ChartDataFile string `mapstructure:"chart_data_file"`
	ImagesDir     string `mapstructure:"images_dir"`
	ResultsDir    string `mapstructure:"results_dir"`
	DatabasePath  string `mapstructure:"database_path"`

	AdminUser     string `mapstructure:"admin_user"`
	AdminPass     string `mapstructure:"admin_pass"`
	SessionSecret string `mapstructure:"session_secret"`
	DevMode       bool   `mapstructure:"dev_mode"`

	DisplaySeconds   int  `mapstructure:"display_seconds"`
	QuestionSeconds  int  `mapstructure:"question_seconds"`
	G2ShowStimulus   bool `mapstructure:"g2_show_stimulus"`
	PollIntervalMS   int  `mapstructure:"poll_interval_ms"`
	RetentionMinutes int  `mapstructure:"retention_minutes"`

	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSize    int    `mapstructure:"log_max_size"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAge     int    `mapstructure:"log_max_age"`
	LogCompress   bool   `mapstructure:"log_compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")

	v.SetDefault("stimuli_file", "MemoryTest.csv")
	v.SetDefault("chart_data_file", "")
	v.SetDefault("images_dir", "images")
	v.SetDefault("results_dir", "results")
	v.SetDefault("database_path", "")

	v.SetDefault("admin_user", "")
	v.SetDefault("admin_pass", "")
	v.SetDefault("session_secret", "change-me")
	v.SetDefault("dev_mode", false)

	v.SetDefault("display_seconds", 30)
	v.SetDefault("question_seconds", 0)
	v.SetDefault("g2_show_stimulus", true)
	v.SetDefault("poll_interval_ms", 200)
	v.SetDefault("retention_minutes", 120)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size", 10) // megabytes
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age", 7) // days
	v.SetDefault("log_compress", true)
}

// Load reads defaults, then the optional config file, then the
// environment. Environment variables use the upper-cased key (PORT,
// STIMULI_FILE, ADMIN_PASS, ...).
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return c, nil
}

// Timing converts the stage limits into the session timing.
func (c Config) Timing() experiment.Timing {
	return experiment.Timing{
		DisplaySeconds:  c.DisplaySeconds,
		QuestionSeconds: c.QuestionSeconds,
		G2ShowStimulus:  c.G2ShowStimulus,
		PollInterval:    experiment.PollInterval(time.Duration(c.PollIntervalMS) * time.Millisecond),
	}
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// AdminEnabled reports whether the results download is configured.
func (c Config) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPass != ""
}
