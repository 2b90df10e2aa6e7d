package main

import (
	"context"
	"os"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/config"
	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/orchestrator"
	"github.com/sagapay/core/go/outbox"
	"github.com/sagapay/core/go/service"
	"github.com/sagapay/core/go/store"
)

func main() {
	var opts config.BaseConfig
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "orchestrator"
	}
	opts.InitLogging()
	opts.LogStartup()

	var ctx = context.Background()
	pool, err := store.Open(ctx, opts.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connecting to postgres")
	}
	var pg = &orchestrator.PgStore{Pool: pool, Service: opts.ServiceName}
	if err := pg.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("bootstrapping schema")
	}

	bus, err := events.NewKafkaBus(opts.Brokers())
	if err != nil {
		log.WithError(err).Fatal("connecting to kafka")
	}

	var svc = &orchestrator.Service{Store: pg, Service: opts.ServiceName}
	var app = &service.App{
		Name:    opts.ServiceName,
		Addr:    opts.HTTPAddress,
		Router:  orchestrator.NewRouter(svc),
		Brokers: opts.Brokers(),
		Publisher: &outbox.Publisher{
			Queue:   &store.OutboxQueue{Pool: pool, Schema: orchestrator.Schema},
			Bus:     bus,
			Service: opts.ServiceName,
		},
		Subscriptions: svc.Subscriptions(),
		Cleanup: func() {
			bus.Close()
			pool.Close()
		},
	}
	if err := app.Run(); err != nil {
		log.WithError(err).Fatal("orchestrator exited")
	}
}
