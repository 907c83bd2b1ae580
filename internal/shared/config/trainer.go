package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/viper"
)

//go:embed trainer.properties
var bundledProperties []byte

// BundledResource names the properties resource compiled into the binary.
const BundledResource = "embedded:trainer.properties"

// Keys read verbatim from the properties resource.
const (
	KeyAppName          = "spark.app.name"
	KeyMaster           = "spark.master"
	KeyRuntimeMode      = "runtime.mode"
	KeyExecutorID       = "spark.executor.id"
	KeyParallelism      = "spark.default.parallelism"
	KeyS3AccessKey      = "spark.hadoop.fs.s3a.access.key"
	KeyS3SecretKey      = "spark.hadoop.fs.s3a.secret.key"
	KeyS3Endpoint       = "spark.hadoop.fs.s3a.endpoint"
	KeyS3PathStyle      = "spark.hadoop.fs.s3a.path.style.access"
	KeyS3SSLEnabled     = "spark.hadoop.fs.s3a.connection.ssl.enabled"
	KeyS3Region         = "spark.hadoop.fs.s3a.region"
	KeyTrainingData     = "s3.training.data"
	KeyModelDestination = "s3.model.destination"
	KeyValidateOnStart  = "s3.validate_on_start"
)

// TrainerConfig contains all configuration for a training run.
type TrainerConfig struct {
	App      AppConfig      `mapstructure:"-"`
	S3       S3Config       `mapstructure:"-"`
	Data     DataConfig     `mapstructure:"data"`
	Training TrainingConfig `mapstructure:"training"`
	Persist  PersistConfig  `mapstructure:"persist"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	UI       UIConfig       `mapstructure:"ui"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// Properties holds every key known to the loader, flattened.
	Properties Properties `mapstructure:"-"`
	// Source names the resource the configuration was read from.
	Source string `mapstructure:"-"`
}

// AppConfig contains session-level settings.
type AppConfig struct {
	Name        string
	Master      string
	Mode        string
	ExecutorID  string
	Parallelism int
}

// S3Config contains object storage credentials and locations.
type S3Config struct {
	AccessKey        string
	SecretKey        string
	Endpoint         string
	PathStyle        bool
	SSLEnabled       bool
	Region           string
	TrainingData     string
	ModelDestination string
	ValidateOnStart  bool
}

// DataConfig contains delimited-file reader options.
type DataConfig struct {
	Delimiter   string `mapstructure:"delimiter"`
	Header      bool   `mapstructure:"header"`
	InferSchema bool   `mapstructure:"infer_schema"`
}

// DelimiterRune returns the configured delimiter as a single rune.
func (d DataConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(d.Delimiter)
	return r
}

// TrainingConfig contains estimator parameters.
type TrainingConfig struct {
	FeaturesCol              string  `mapstructure:"features_col"`
	LabelCol                 string  `mapstructure:"label_col"`
	MaxIter                  int     `mapstructure:"max_iter"`
	RegParam                 float64 `mapstructure:"reg_param"`
	Tol                      float64 `mapstructure:"tol"`
	FitIntercept             bool    `mapstructure:"fit_intercept"`
	Standardization          bool    `mapstructure:"standardization"`
	Family                   string  `mapstructure:"family"`
	HandleInvalid            string  `mapstructure:"handle_invalid"`
	ExcludeLabelFromFeatures bool    `mapstructure:"exclude_label_from_features"`
}

// PersistConfig controls how model persistence failures are treated.
type PersistConfig struct {
	FailOnError bool `mapstructure:"fail_on_error"`
}

// LoadTrainer loads the trainer configuration.
// If configPath is set, the file must exist. Otherwise trainer.properties is
// looked up in ./config and the working directory, falling back to the bundled
// resource. Environment variables with WINEML_ prefix override all sources.
func LoadTrainer(configPath string) (*TrainerConfig, error) {
	v := viper.New()
	setTrainerDefaults(v)
	setClusterDefaults(v)

	v.SetConfigType("properties")

	source := BundledResource
	switch {
	case configPath != "":
		info, err := os.Stat(configPath)
		if err != nil || info.IsDir() {
			return nil, &ConfigNotFoundError{Path: configPath}
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigLoadError{Path: configPath, Err: err}
		}
		source = configPath
	default:
		v.SetConfigName("trainer")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case err == nil:
			source = v.ConfigFileUsed()
		case errors.As(err, &notFound):
			if err := v.ReadConfig(bytes.NewReader(bundledProperties)); err != nil {
				return nil, &ConfigLoadError{Path: BundledResource, Err: err}
			}
		default:
			return nil, &ConfigLoadError{Path: v.ConfigFileUsed(), Err: err}
		}
	}

	v.SetEnvPrefix("WINEML")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg TrainerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigLoadError{Path: source, Err: fmt.Errorf("error unmarshaling config: %w", err)}
	}
	if err := decodeSessionKeys(v, &cfg); err != nil {
		return nil, &ConfigLoadError{Path: source, Err: err}
	}
	if utf8.RuneCountInString(cfg.Data.Delimiter) != 1 {
		return nil, &ConfigLoadError{
			Path: source,
			Err:  fmt.Errorf("data.delimiter must be a single character, got %q", cfg.Data.Delimiter),
		}
	}

	cfg.Properties = make(Properties)
	for _, key := range v.AllKeys() {
		cfg.Properties[key] = v.GetString(key)
	}
	cfg.Source = source

	return &cfg, nil
}

func setTrainerDefaults(v *viper.Viper) {
	v.SetDefault(KeyAppName, "TrainingDataApplication")
	v.SetDefault(KeyMaster, "local[*]")
	v.SetDefault(KeyRuntimeMode, "")
	v.SetDefault(KeyExecutorID, "")
	v.SetDefault(KeyParallelism, 0)
	v.SetDefault(KeyS3AccessKey, "")
	v.SetDefault(KeyS3SecretKey, "")
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyS3PathStyle, true)
	v.SetDefault(KeyS3SSLEnabled, false)
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyTrainingData, "")
	v.SetDefault(KeyModelDestination, "")
	v.SetDefault(KeyValidateOnStart, true)

	v.SetDefault("data.delimiter", ";")
	v.SetDefault("data.header", true)
	v.SetDefault("data.infer_schema", true)

	v.SetDefault("training.features_col", "features")
	v.SetDefault("training.label_col", "quality")
	v.SetDefault("training.max_iter", 100)
	v.SetDefault("training.reg_param", 0.0)
	v.SetDefault("training.tol", 1e-6)
	v.SetDefault("training.fit_intercept", true)
	v.SetDefault("training.standardization", true)
	v.SetDefault("training.family", "auto")
	v.SetDefault("training.handle_invalid", "error")
	v.SetDefault("training.exclude_label_from_features", false)

	v.SetDefault("persist.fail_on_error", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// decodeSessionKeys reads the dotted Spark-style keys that do not map onto
// nested structs.
func decodeSessionKeys(v *viper.Viper, cfg *TrainerConfig) error {
	parallelism, err := intValue(v, KeyParallelism)
	if err != nil {
		return err
	}
	pathStyle, err := boolValue(v, KeyS3PathStyle)
	if err != nil {
		return err
	}
	ssl, err := boolValue(v, KeyS3SSLEnabled)
	if err != nil {
		return err
	}
	validate, err := boolValue(v, KeyValidateOnStart)
	if err != nil {
		return err
	}

	cfg.App = AppConfig{
		Name:        v.GetString(KeyAppName),
		Master:      v.GetString(KeyMaster),
		Mode:        strings.ToLower(v.GetString(KeyRuntimeMode)),
		ExecutorID:  v.GetString(KeyExecutorID),
		Parallelism: parallelism,
	}
	cfg.S3 = S3Config{
		AccessKey:        v.GetString(KeyS3AccessKey),
		SecretKey:        v.GetString(KeyS3SecretKey),
		Endpoint:         v.GetString(KeyS3Endpoint),
		PathStyle:        pathStyle,
		SSLEnabled:       ssl,
		Region:           v.GetString(KeyS3Region),
		TrainingData:     v.GetString(KeyTrainingData),
		ModelDestination: v.GetString(KeyModelDestination),
		ValidateOnStart:  validate,
	}
	return nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

func boolValue(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("%s: invalid boolean %q", key, v.GetString(key))
	}
}
