package main

import (
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/config"
	"github.com/sagapay/core/go/gateway"
	"github.com/sagapay/core/go/service"
)

type options struct {
	config.BaseConfig
	config.GatewayConfig
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "gateway"
	}
	opts.InitLogging()
	opts.LogStartup()

	rdb, err := service.RedisClient(opts.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("connecting to redis")
	}

	var g = &gateway.Gateway{
		APIKey: opts.APIKey,
		Bucket: &gateway.TokenBucket{
			Redis:             rdb,
			CapacityPerMinute: int64(opts.RateLimitPerMinute),
		},
		Cache: &gateway.IdempotencyCache{
			Redis: rdb,
			TTL:   time.Duration(opts.IdempotencyTTLSeconds) * time.Second,
		},
		Forwarder: gateway.NewHTTPForwarder(opts.OrchestratorURL),
		Service:   opts.ServiceName,
	}

	var app = &service.App{
		Name:    opts.ServiceName,
		Addr:    opts.HTTPAddress,
		Router:  gateway.NewRouter(g),
		Cleanup: func() { rdb.Close() },
	}
	if err := app.Run(); err != nil {
		log.WithError(err).Fatal("gateway exited")
	}
}
