package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"auctionhouse/api"
)

func ParseArgs() Args {
	// a local .env only fills variables that are not set yet
	_ = godotenv.Load()
	hostname, _ := os.Hostname()

	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("id", hostname, "name of this instance in the reconciliation consumer group")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.Duration("shutdown-timeout", 10*time.Second, "")

	// auth config
	pflag.String("auth-public-key", "", "PEM encoded Ed25519 key access tokens are signed with")

	// payments config
	pflag.String("payments-webhook-secret", "", "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-bucket", "", "")
	pflag.String("s3-public-base-url", "", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")
	pflag.Bool("db-migrate", false, "create or update the tables on start")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.Int64("redis-stream-max-len", 100000, "")
	pflag.String("redis-consumer-group", "auctionhouse-reconciliation", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-change-feed", "auctionhouse-change-feed", "")
	pflag.String("redis-stream-key-for-reconciliation", "auctionhouse-reconciliation", "")

	// bidding config
	pflag.Bool("bidding-lock-items", false, "queue bidders of an item on a Redis lock")
	pflag.Duration("bidding-lock-wait", 2*time.Second, "")
	pflag.Int("bidding-max-commit-attempts", 3, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUCTIONHOUSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL:       viper.GetString("server-url"),
		LogLevel:        viper.GetString("log-level"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		Migrate:         viper.GetBool("db-migrate"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("id"),
			Auth: api.AuthConfig{
				PublicKey: viper.GetString("auth-public-key"),
			},
			Payments: api.PaymentsConfig{
				WebhookSecret: viper.GetString("payments-webhook-secret"),
			},
			S3: api.S3Config{
				Endpoint:        viper.GetString("s3-endpoint"),
				Bucket:          viper.GetString("s3-bucket"),
				PublicBaseURL:   viper.GetString("s3-public-base-url"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				StreamMaxLen:  viper.GetInt64("redis-stream-max-len"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					ChangeFeed:     viper.GetString("redis-stream-key-for-change-feed"),
					Reconciliation: viper.GetString("redis-stream-key-for-reconciliation"),
				},
			},
			Bidding: api.BiddingConfig{
				LockItems:         viper.GetBool("bidding-lock-items"),
				LockWait:          viper.GetDuration("bidding-lock-wait"),
				MaxCommitAttempts: viper.GetInt("bidding-max-commit-attempts"),
			},
		},
	}
}

type Args struct {
	ServerURL       string
	LogLevel        string
	ShutdownTimeout time.Duration
	Migrate         bool
	ServerConfig    api.ServerConfig
}

func (args Args) Validate() error {
	var errs []error
	required := map[string]string{
		"server-url":                          args.ServerURL,
		"id":                                  args.ServerConfig.ID,
		"auth-public-key":                     args.ServerConfig.Auth.PublicKey,
		"payments-webhook-secret":             args.ServerConfig.Payments.WebhookSecret,
		"db-host":                             args.ServerConfig.DB.Host,
		"db-database":                         args.ServerConfig.DB.Database,
		"redis-addr":                          args.ServerConfig.Redis.Addr,
		"redis-consumer-group":                args.ServerConfig.Redis.ConsumerGroup,
		"redis-stream-key-for-change-feed":    args.ServerConfig.Redis.StreamKeys.ChangeFeed,
		"redis-stream-key-for-reconciliation": args.ServerConfig.Redis.StreamKeys.Reconciliation,
		"s3-bucket":                           args.ServerConfig.S3.Bucket,
		"s3-public-base-url":                  args.ServerConfig.S3.PublicBaseURL,
	}
	for name, value := range required {
		if value == "" {
			errs = append(errs, errors.New("missing --"+name))
		}
	}
	if args.ServerConfig.Redis.StreamKeys.ChangeFeed != "" &&
		args.ServerConfig.Redis.StreamKeys.ChangeFeed == args.ServerConfig.Redis.StreamKeys.Reconciliation {
		errs = append(errs, errors.New("change feed and reconciliation need their own streams"))
	}
	if args.ServerConfig.Bidding.MaxCommitAttempts < 1 {
		errs = append(errs, errors.New("--bidding-max-commit-attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
