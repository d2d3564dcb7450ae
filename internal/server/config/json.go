package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/feedkeeper/internal/flagx"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/timex"
)

// JsonConfig mirrors Config for JSON files, with timex.Duration for
// intervals so both "5s" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrGRPC            string                  `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string                  `json:"database_dsn"`
	SecretKey                   string                  `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration          `json:"access_token_validity_duration"`
	MetadataBackend             string                  `json:"metadata_backend"`
	ContentBackend              string                  `json:"content_backend"`
	DataDir                     string                  `json:"data_dir"`
	S3RootUser                  string                  `json:"s3_root_user"`
	S3RootPassword              string                  `json:"s3_root_password"`
	S3Bucket                    string                  `json:"s3_bucket"`
	S3Region                    string                  `json:"s3_region"`
	S3BaseEndpoint              string                  `json:"s3_base_endpoint"`
	S3Prefix                    string                  `json:"s3_prefix"`
	SequenceScope               string                  `json:"sequence_scope"`
	LockTimeout                 timex.Duration          `json:"lock_timeout"`
	TxTimeout                   timex.Duration          `json:"tx_timeout"`
	TxRetries                   uint64                  `json:"tx_retries"`
	DefaultPageSize             int                     `json:"default_page_size"`
	MaxPageSize                 int                     `json:"max_page_size"`
	MaxBatchSize                int                     `json:"max_batch_size"`
	BatchWorkers                int                     `json:"batch_workers"`
	BatchItemTimeout            timex.Duration          `json:"batch_item_timeout"`
	LogFormat                   string                  `json:"log_format"`
	LogLevel                    string                  `json:"log_level"`
	Joins                       []models.JoinDefinition `json:"joins"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:            c.EndpointAddrGRPC,
		DatabaseDSN:                 c.DatabaseDSN,
		SecretKey:                   c.SecretKey,
		AccessTokenValidityDuration: timex.Duration{Duration: c.AccessTokenValidityDuration},
		MetadataBackend:             c.MetadataBackend,
		ContentBackend:              c.ContentBackend,
		DataDir:                     c.DataDir,
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              c.S3RootPassword,
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		S3Prefix:                    c.S3Prefix,
		SequenceScope:               c.SequenceScope,
		LockTimeout:                 timex.Duration{Duration: c.LockTimeout},
		TxTimeout:                   timex.Duration{Duration: c.TxTimeout},
		TxRetries:                   c.TxRetries,
		DefaultPageSize:             c.DefaultPageSize,
		MaxPageSize:                 c.MaxPageSize,
		MaxBatchSize:                c.MaxBatchSize,
		BatchWorkers:                c.BatchWorkers,
		BatchItemTimeout:            timex.Duration{Duration: c.BatchItemTimeout},
		LogFormat:                   c.LogFormat,
		LogLevel:                    c.LogLevel,
		Joins:                       c.Joins,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.DatabaseDSN = j.DatabaseDSN
	c.SecretKey = j.SecretKey
	c.AccessTokenValidityDuration = j.AccessTokenValidityDuration.Duration
	c.MetadataBackend = j.MetadataBackend
	c.ContentBackend = j.ContentBackend
	c.DataDir = j.DataDir
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.S3Prefix = j.S3Prefix
	c.SequenceScope = j.SequenceScope
	c.LockTimeout = j.LockTimeout.Duration
	c.TxTimeout = j.TxTimeout.Duration
	c.TxRetries = j.TxRetries
	c.DefaultPageSize = j.DefaultPageSize
	c.MaxPageSize = j.MaxPageSize
	c.MaxBatchSize = j.MaxBatchSize
	c.BatchWorkers = j.BatchWorkers
	c.BatchItemTimeout = j.BatchItemTimeout.Duration
	c.LogFormat = j.LogFormat
	c.LogLevel = j.LogLevel
	c.Joins = j.Joins
}

// parseJson overlays the JSON file named by -c or -config in args. Keys
// missing from the file keep their current values.
func parseJson(config *Config, args []string) error {

	// try flags
	jsonConfigFile := flagx.ConfigPath(args)

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	return readJsonFile(config, jsonConfigFile)
}

func readJsonFile(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.apply(config)
	return nil
}
