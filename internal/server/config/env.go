package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// EnvConfig lists the environment variables understood by the server.
// Every field is a pointer left nil when the variable is unset, so only
// variables that are actually present override earlier layers.
type EnvConfig struct {
	EndpointAddrHTTP     *string        `env:"BHOPMAPS_ADDR, noinit"`
	DatabaseDSN          *string        `env:"BHOPMAPS_DATABASE_DSN, noinit"`
	SecretKey            *string        `env:"BHOPMAPS_SECRET_KEY, noinit"`
	SessionTTL           *time.Duration `env:"BHOPMAPS_SESSION_TTL, noinit"`
	BcryptCost           *int           `env:"BHOPMAPS_BCRYPT_COST, noinit"`
	S3RootUser           *string        `env:"BHOPMAPS_S3_ROOT_USER, noinit"`
	S3RootPassword       *string        `env:"BHOPMAPS_S3_ROOT_PASSWORD, noinit"`
	S3Bucket             *string        `env:"BHOPMAPS_S3_BUCKET, noinit"`
	S3Region             *string        `env:"BHOPMAPS_S3_REGION, noinit"`
	S3BaseEndpoint       *string        `env:"BHOPMAPS_S3_BASE_ENDPOINT, noinit"`
	S3PublicBaseURL      *string        `env:"BHOPMAPS_S3_PUBLIC_BASE_URL, noinit"`
	S3UsePathStyle       *bool          `env:"BHOPMAPS_S3_USE_PATH_STYLE, noinit"`
	ObjectStoreTimeout   *time.Duration `env:"BHOPMAPS_OBJECT_STORE_TIMEOUT, noinit"`
	SignedURLTTL         *time.Duration `env:"BHOPMAPS_SIGNED_URL_TTL, noinit"`
	MaxDescriptionLength *int           `env:"BHOPMAPS_MAX_DESCRIPTION_LENGTH, noinit"`
	MaxUploadSize        *int64         `env:"BHOPMAPS_MAX_UPLOAD_SIZE, noinit"`
	DefaultAvatar        *string        `env:"BHOPMAPS_DEFAULT_AVATAR, noinit"`
	OriginURL            *string        `env:"BHOPMAPS_ORIGIN_URL, noinit"`
	RedisAddr            *string        `env:"BHOPMAPS_REDIS_ADDR, noinit"`
	RedisDB              *int           `env:"BHOPMAPS_REDIS_DB, noinit"`
	JanitorInterval      *time.Duration `env:"BHOPMAPS_JANITOR_INTERVAL, noinit"`
	JanitorBatch         *int           `env:"BHOPMAPS_JANITOR_BATCH, noinit"`
	ReconcileGrace       *time.Duration `env:"BHOPMAPS_RECONCILE_GRACE, noinit"`
	LogLevel             *string        `env:"BHOPMAPS_LOG_LEVEL, noinit"`
	LogBackend           *string        `env:"BHOPMAPS_LOG_BACKEND, noinit"`
}

// parseEnv overlays environment variables resolved through lookuper onto
// config. A malformed value (e.g. "abc" for a duration) panics.
func parseEnv(config *Config, lookuper envconfig.Lookuper) {
	var e EnvConfig
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &e,
		Lookuper: lookuper,
	}); err != nil {
		panic(err)
	}

	override(&config.EndpointAddrHTTP, e.EndpointAddrHTTP)
	override(&config.DatabaseDSN, e.DatabaseDSN)
	override(&config.SecretKey, e.SecretKey)
	override(&config.SessionTTL, e.SessionTTL)
	override(&config.BcryptCost, e.BcryptCost)
	override(&config.S3RootUser, e.S3RootUser)
	override(&config.S3RootPassword, e.S3RootPassword)
	override(&config.S3Bucket, e.S3Bucket)
	override(&config.S3Region, e.S3Region)
	override(&config.S3BaseEndpoint, e.S3BaseEndpoint)
	override(&config.S3PublicBaseURL, e.S3PublicBaseURL)
	override(&config.S3UsePathStyle, e.S3UsePathStyle)
	override(&config.ObjectStoreTimeout, e.ObjectStoreTimeout)
	override(&config.SignedURLTTL, e.SignedURLTTL)
	override(&config.MaxDescriptionLength, e.MaxDescriptionLength)
	override(&config.MaxUploadSize, e.MaxUploadSize)
	override(&config.DefaultAvatar, e.DefaultAvatar)
	override(&config.OriginURL, e.OriginURL)
	override(&config.RedisAddr, e.RedisAddr)
	override(&config.RedisDB, e.RedisDB)
	override(&config.JanitorInterval, e.JanitorInterval)
	override(&config.JanitorBatch, e.JanitorBatch)
	override(&config.ReconcileGrace, e.ReconcileGrace)
	override(&config.LogLevel, e.LogLevel)
	override(&config.LogBackend, e.LogBackend)
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
