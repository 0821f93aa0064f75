package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/bhopmaps/internal/flagx"
	"github.com/dmitrijs2005/bhopmaps/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Duration fields accept "15m" or
// integer nanoseconds. Pointer fields tell "absent" from zero values, so a
// partial file only overrides what it names.
type JsonConfig struct {
	EndpointAddrHTTP     string          `json:"endpoint_addr_http"`
	DatabaseDSN          string          `json:"database_dsn"`
	SecretKey            string          `json:"secret_key"`
	SessionTTL           *timex.Duration `json:"session_ttl"`
	BcryptCost           int             `json:"bcrypt_cost"`
	S3RootUser           string          `json:"s3_root_user"`
	S3RootPassword       string          `json:"s3_root_password"`
	S3Bucket             string          `json:"s3_bucket"`
	S3Region             string          `json:"s3_region"`
	S3BaseEndpoint       string          `json:"s3_base_endpoint"`
	S3PublicBaseURL      string          `json:"s3_public_base_url"`
	S3UsePathStyle       *bool           `json:"s3_use_path_style"`
	ObjectStoreTimeout   *timex.Duration `json:"object_store_timeout"`
	SignedURLTTL         *timex.Duration `json:"signed_url_ttl"`
	MaxDescriptionLength int             `json:"max_description_length"`
	MaxUploadSize        int64           `json:"max_upload_size"`
	DefaultAvatar        string          `json:"default_avatar"`
	OriginURL            string          `json:"origin_url"`
	RedisAddr            string          `json:"redis_addr"`
	RedisDB              *int            `json:"redis_db"`
	JanitorInterval      *timex.Duration `json:"janitor_interval"`
	JanitorBatch         int             `json:"janitor_batch"`
	ReconcileGrace       *timex.Duration `json:"reconcile_grace"`
	LogLevel             string          `json:"log_level"`
	LogBackend           string          `json:"log_backend"`
}

// parseJson overlays the JSON file named by -c/-config in args onto config.
// Without the flag nothing happens. An unreadable or invalid file panics:
// the server must not start half-configured.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFile(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.SessionTTL, c.SessionTTL)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, c.S3PublicBaseURL)
	if c.S3UsePathStyle != nil {
		config.S3UsePathStyle = *c.S3UsePathStyle
	}
	setDuration(&config.ObjectStoreTimeout, c.ObjectStoreTimeout)
	setDuration(&config.SignedURLTTL, c.SignedURLTTL)
	setInt(&config.MaxDescriptionLength, c.MaxDescriptionLength)
	if c.MaxUploadSize > 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}
	setString(&config.DefaultAvatar, c.DefaultAvatar)
	setString(&config.OriginURL, c.OriginURL)
	setString(&config.RedisAddr, c.RedisAddr)
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	setDuration(&config.JanitorInterval, c.JanitorInterval)
	setInt(&config.JanitorBatch, c.JanitorBatch)
	setDuration(&config.ReconcileGrace, c.ReconcileGrace)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogBackend, c.LogBackend)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
