package main

import (
	"context"
	"os"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/config"
	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/outbox"
	"github.com/sagapay/core/go/risk"
	"github.com/sagapay/core/go/service"
	"github.com/sagapay/core/go/store"
)

type options struct {
	config.BaseConfig
	config.RiskConfig
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "risk"
	}
	opts.InitLogging()
	opts.LogStartup()

	var ctx = context.Background()
	pool, err := store.Open(ctx, opts.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connecting to postgres")
	}
	var pg = &risk.PgStore{Pool: pool, Service: opts.ServiceName}
	if err := pg.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("bootstrapping schema")
	}

	rdb, err := service.RedisClient(opts.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("connecting to redis")
	}
	bus, err := events.NewKafkaBus(opts.Brokers())
	if err != nil {
		log.WithError(err).Fatal("connecting to kafka")
	}

	var svc = &risk.Service{
		Store: pg,
		Engine: &risk.Engine{
			Redis:                  rdb,
			VelocityPerHour:        opts.VelocityPerHour,
			ReviewAmountCents:      opts.ReviewAmountCents,
			DenyFrequencyThreshold: opts.DenyFrequencyThreshold,
		},
		Statuses: risk.NewHTTPStatusFetcher(opts.OrchestratorURL),
		Service:  opts.ServiceName,
	}
	var app = &service.App{
		Name:    opts.ServiceName,
		Addr:    opts.HTTPAddress,
		Router:  risk.NewRouter(svc, opts.APIKey),
		Brokers: opts.Brokers(),
		Publisher: &outbox.Publisher{
			Queue:   &store.OutboxQueue{Pool: pool, Schema: risk.Schema},
			Bus:     bus,
			Service: opts.ServiceName,
		},
		Subscriptions: svc.Subscriptions(),
		Cleanup: func() {
			bus.Close()
			rdb.Close()
			pool.Close()
		},
	}
	if err := app.Run(); err != nil {
		log.WithError(err).Fatal("risk exited")
	}
}
