package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"

	"github.com/spf13/viper"
)

type (
	Config struct {
		RPCURL    string
		WSURL     string
		ProgramID model.PublicKey
		Subscribe bool
		LogLevel  string
		Local     bool

		Wallet  string
		Gateway string

		Redis Redis
		Mongo Mongo
	}

	Redis struct {
		Addr      string
		DB        int
		Prefix    string
		KeyTTL    time.Duration
		// CacheKeys stores the derived X25519 private key in redis as plaintext.
		CacheKeys bool
	}

	Mongo struct {
		URI      string
		Database string
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "http://127.0.0.1:8899")
	v.SetDefault("ws_url", "ws://127.0.0.1:8900")
	v.SetDefault("program_id", address.DefaultProgramID.String())
	v.SetDefault("subscribe", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("local", false)
	v.SetDefault("wallet", "default")
	v.SetDefault("gateway.addr", "localhost:9090")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "cherry:")
	v.SetDefault("redis.key_ttl", 24*time.Hour)
	v.SetDefault("redis.cache_keys", true)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "cherry_chat")
}

// New builds the viper instance: defaults, then the optional yaml file at path, then CHERRY_*
// environment variables (CHERRY_REDIS_ADDR overrides redis.addr).
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("cherry")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func Load(v *viper.Viper) (*Config, error) {
	programID, err := model.PublicKeyFromBase58(v.GetString("program_id"))
	if err != nil {
		return nil, fmt.Errorf("program_id: %w", err)
	}

	return &Config{
		RPCURL:    v.GetString("rpc_url"),
		WSURL:     v.GetString("ws_url"),
		ProgramID: programID,
		Subscribe: v.GetBool("subscribe"),
		LogLevel:  v.GetString("log_level"),
		Local:     v.GetBool("local"),
		Wallet:    v.GetString("wallet"),
		Gateway:   v.GetString("gateway.addr"),
		Redis: Redis{
			Addr:      v.GetString("redis.addr"),
			DB:        v.GetInt("redis.db"),
			Prefix:    v.GetString("redis.prefix"),
			KeyTTL:    v.GetDuration("redis.key_ttl"),
			CacheKeys: v.GetBool("redis.cache_keys"),
		},
		Mongo: Mongo{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
	}, nil
}
