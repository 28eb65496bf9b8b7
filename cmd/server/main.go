package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/config"
	walletRepo "cherry_chat/internal/repository/wallet"
	"cherry_chat/internal/service/memnet"
	redisSvc "cherry_chat/internal/service/redis"
	"cherry_chat/internal/service/rpc"
	"cherry_chat/internal/service/server"
	"cherry_chat/internal/service/session"
	"cherry_chat/internal/service/stem"
	"cherry_chat/internal/service/wallet"
	"cherry_chat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type network interface {
	chain.Transport
	chain.Submitter
}

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	walletName := flag.String("wallet", "", "name of the local wallet to use (overrides config)")
	local := flag.Bool("local", false, "run against an in-memory ledger instead of an RPC node")
	flag.Parse()

	v, err := config.New(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if *walletName != "" {
		v.Set("wallet", *walletName)
	}
	if *local {
		v.Set("local", true)
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	log.SetLevel(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())
	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	defer rdb.Close()
	redis := redisSvc.NewRedis(rdb, cfg.Redis.Prefix)
	if err := redis.Ping(ctx); err != nil {
		log.Fatal("connect redis failed", zap.Error(err))
	}

	signer, err := wallet.NewService(walletRepo.NewWalletRepo(db)).Open(ctx, cfg.Wallet)
	if err != nil {
		log.Fatal("open wallet failed", zap.Error(err))
	}
	identity := signer.PublicKey()

	var net network
	if cfg.Local {
		ledger := memnet.NewLedger(memnet.WithProgramID(cfg.ProgramID))
		ledger.Fund(identity)
		net = ledger
	} else {
		client := rpc.NewClient(cfg.RPCURL, cfg.WSURL)
		go client.Run(ctx)
		net = client
	}

	engine, err := stem.New(identity, net, cfg.Subscribe, stem.WithProgramID(cfg.ProgramID))
	if err != nil {
		log.Fatal("create engine failed", zap.Error(err))
	}
	if err := engine.Init(ctx); err != nil {
		log.Fatal("init engine failed", zap.Error(err))
	}

	// the cache holds the X25519 private key in plaintext, redis.cache_keys=false turns it off
	var keys *session.KeyCache
	if cfg.Redis.CacheKeys {
		keys = session.NewKeyCache(redis, cfg.Redis.KeyTTL)
	}
	if err := restoreKeys(ctx, keys, engine, signer); err != nil {
		log.Error("encryption keys unavailable, invites are disabled", zap.Error(err))
	}

	if err := server.NewHttpServer(engine, signer, net, redis).Run(ctx, cfg.Gateway); err != nil {
		log.Error("gateway stopped", zap.Error(err))
		os.Exit(1)
	}
}

// restoreKeys installs cached key material, deriving and caching it when nothing is cached.
// A nil cache always derives.
func restoreKeys(ctx context.Context, keys *session.KeyCache, engine *stem.Engine, signer chain.Signer) error {
	if keys != nil {
		km, err := keys.Load(ctx, engine.Identity())
		if err != nil {
			log.Warn("read cached keys failed", zap.Error(err))
		}
		if km != nil {
			engine.SetKeyMaterial(km)
			return nil
		}
	}

	km, err := engine.DeriveKeys(ctx, signer)
	if err != nil {
		return err
	}
	if keys == nil {
		return nil
	}
	if err := keys.Save(ctx, engine.Identity(), km); err != nil {
		log.Warn("cache keys failed", zap.Error(err))
	}
	return nil
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
