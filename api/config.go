package api

import "time"

type ServerConfig struct {
	// ID names this instance inside the Redis consumer group.
	ID       string
	S3       S3Config
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Payments PaymentsConfig
	Bidding  BiddingConfig
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Bucket          string
	PublicBaseURL   string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	StreamKeys    RedisStreamKeys
	ConsumerGroup string
	// StreamMaxLen trims each stream to about this many entries. Zero keeps
	// everything.
	StreamMaxLen int64
}

type RedisStreamKeys struct {
	ChangeFeed     string
	Reconciliation string
}

type AuthConfig struct {
	// PublicKey is the PEM encoded Ed25519 key access tokens are signed with.
	PublicKey string
}

type PaymentsConfig struct {
	WebhookSecret string
}

type BiddingConfig struct {
	// LockItems queues bidders of the same item on a Redis lock before they
	// reach the database.
	LockItems         bool
	LockWait          time.Duration
	MaxCommitAttempts int
}
