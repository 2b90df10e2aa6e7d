package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/config"
	"github.com/sagapay/core/go/metrics"
	"github.com/sagapay/core/go/notification"
	"github.com/sagapay/core/go/service"
	"github.com/sagapay/core/go/store"
)

func main() {
	var opts config.BaseConfig
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "notification"
	}
	opts.InitLogging()
	opts.LogStartup()

	var ctx = context.Background()
	pool, err := store.Open(ctx, opts.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connecting to postgres")
	}
	var pg = &notification.PgStore{Pool: pool, Service: opts.ServiceName}
	if err := pg.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("bootstrapping schema")
	}

	var router = gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware(opts.ServiceName))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	var svc = &notification.Service{Store: pg, Service: opts.ServiceName}
	var app = &service.App{
		Name:          opts.ServiceName,
		Addr:          opts.HTTPAddress,
		Router:        router,
		Brokers:       opts.Brokers(),
		Subscriptions: svc.Subscriptions(),
		Cleanup:       func() { pool.Close() },
	}
	if err := app.Run(); err != nil {
		log.WithError(err).Fatal("notification exited")
	}
}
