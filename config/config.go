// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/roller/storage"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	MinerRoller     = "roller"
	MinerRollerMaxi = "roller_maxi"

	BlobPOSIX = "posix"
	BlobS3    = "s3"
	BlobGCS   = "gcs"
	BlobAzure = "azure"

	ExporterZipkin   = "zipkin"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlphttp"

	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// Config is the configuration for the pattern recommender.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Roller   RollerConfig   `mapstructure:"roller"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the rating store.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required,data_store"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// BlobConfig is the configuration for the knowledge base store.
type BlobConfig struct {
	Type  string          `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Dir   string          `mapstructure:"dir" validate:"required_if=Type posix"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

// RollerConfig is the configuration for mining and recommending.
type RollerConfig struct {
	// Name prefixes the persisted knowledge base blobs.
	Name string `mapstructure:"name" validate:"required"`
	// Miner is either roller or roller_maxi.
	Miner string `mapstructure:"miner" validate:"oneof=roller roller_maxi"`
	// MinSupport <= 0 derives the threshold from the least supported bit item.
	MinSupport   float64 `mapstructure:"min_support" validate:"lte=1"`
	MaxRecommend int     `mapstructure:"max_recommend" validate:"gte=0"`
	MaxPatterns  int     `mapstructure:"max_patterns" validate:"gt=0"`
	FitJobs      int     `mapstructure:"fit_jobs" validate:"gte=1"`
	ItemFilter   string  `mapstructure:"item_filter"`
	Reversed     bool    `mapstructure:"reversed"`
}

type DatasetConfig struct {
	MinRating float64 `mapstructure:"min_rating"`
	MaxRating float64 `mapstructure:"max_rating" validate:"gtfield=MinRating"`
}

// TracingConfig is the configuration for OpenTelemetry tracing.
type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=zipkin otlp otlphttp"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

// NewTracerProvider creates a tracer provider. Spans are dropped if tracing is disabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var exporter tracesdk.SpanExporter
	var err error
	switch config.Exporter {
	case ExporterZipkin:
		exporter, err = zipkin.New(config.CollectorEndpoint)
	case ExporterOTLP:
		client := otlptracegrpc.NewClient(otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.TODO(), client)
	case ExporterOTLPHTTP:
		client := otlptracehttp.NewClient(otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.TODO(), client)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler tracesdk.Sampler
	switch config.Sampler {
	case SamplerAlways:
		sampler = tracesdk.AlwaysSample()
	case SamplerNever:
		sampler = tracesdk.NeverSample()
	case SamplerRatio:
		sampler = tracesdk.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(sampler),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("roller"),
		)),
	), nil
}

// RelevantThreshold is the midpoint of the rating range.
func (c *DatasetConfig) RelevantThreshold() float64 {
	return (c.MinRating + c.MaxRating) / 2
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "sqlite://roller.db",
		},
		Blob: BlobConfig{
			Type: BlobPOSIX,
			Dir:  "roller_kb",
		},
		Roller: RollerConfig{
			Name:        "roller",
			Miner:       MinerRoller,
			MaxPatterns: 50,
			FitJobs:     1,
		},
		Dataset: DatasetConfig{
			MinRating: 1,
			MaxRating: 5,
		},
		Tracing: TracingConfig{
			Exporter: ExporterOTLP,
			Sampler:  SamplerAlways,
			Ratio:    1,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	viper.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	// [blob]
	viper.SetDefault("blob.type", defaultConfig.Blob.Type)
	viper.SetDefault("blob.dir", defaultConfig.Blob.Dir)
	// [roller]
	viper.SetDefault("roller.name", defaultConfig.Roller.Name)
	viper.SetDefault("roller.miner", defaultConfig.Roller.Miner)
	viper.SetDefault("roller.min_support", defaultConfig.Roller.MinSupport)
	viper.SetDefault("roller.max_recommend", defaultConfig.Roller.MaxRecommend)
	viper.SetDefault("roller.max_patterns", defaultConfig.Roller.MaxPatterns)
	viper.SetDefault("roller.fit_jobs", defaultConfig.Roller.FitJobs)
	viper.SetDefault("roller.item_filter", defaultConfig.Roller.ItemFilter)
	viper.SetDefault("roller.reversed", defaultConfig.Roller.Reversed)
	// [dataset]
	viper.SetDefault("dataset.min_rating", defaultConfig.Dataset.MinRating)
	viper.SetDefault("dataset.max_rating", defaultConfig.Dataset.MaxRating)
	// [tracing]
	viper.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	viper.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	viper.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"database.data_store", "ROLLER_DATA_STORE"},
	{"database.table_prefix", "ROLLER_TABLE_PREFIX"},
	{"blob.type", "ROLLER_BLOB_TYPE"},
	{"blob.dir", "ROLLER_BLOB_DIR"},
	{"blob.s3.endpoint", "S3_ENDPOINT"},
	{"blob.s3.access_key_id", "S3_ACCESS_KEY_ID"},
	{"blob.s3.secret_access_key", "S3_SECRET_ACCESS_KEY"},
	{"blob.gcs.credentials_file", "GCS_CREDENTIALS_FILE"},
	{"blob.azure.connection_string", "AZURE_STORAGE_CONNECTION_STRING"},
	{"roller.miner", "ROLLER_MINER"},
	{"roller.min_support", "ROLLER_MIN_SUPPORT"},
	{"roller.max_recommend", "ROLLER_MAX_RECOMMEND"},
	{"roller.fit_jobs", "ROLLER_FIT_JOBS"},
	{"tracing.enable_tracing", "ROLLER_ENABLE_TRACING"},
	{"tracing.collector_endpoint", "ROLLER_COLLECTOR_ENDPOINT"},
}

// LoadConfig loads configuration from a toml file. An empty path loads
// defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	viper.Reset()
	setDefault()
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
	}
	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks value ranges and store schemes.
func (config *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		return storage.HasKnownPrefix(fl.Field().String())
	}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(validate.Struct(config))
}
