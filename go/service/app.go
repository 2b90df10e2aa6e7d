// Package service hosts the shared process skeleton of every binary: HTTP
// listener, outbox publisher, topic consumers, and coordinated shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/outbox"
)

// RedisClient parses a redis:// URL into a connected client.
func RedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// App is one service process: an HTTP surface plus background tasks.
type App struct {
	Name          string
	Addr          string
	Router        http.Handler
	Brokers       []string
	Publisher     *outbox.Publisher
	Subscriptions []events.Subscription

	// Cleanup runs after all tasks have stopped.
	Cleanup func()
}

const shutdownGrace = 10 * time.Second

// Run serves until SIGINT or SIGTERM, then drains every task.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if a.Publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Publisher.Run(ctx)
		}()
	}
	for _, sub := range a.Subscriptions {
		wg.Add(1)
		go func(sub events.Subscription) {
			defer wg.Done()
			if err := events.RunConsumer(ctx, a.Brokers, sub.Topic, sub.Group, a.Name, sub.Handler); err != nil {
				log.WithFields(log.Fields{"topic": sub.Topic, "group": sub.Group, "err": err}).
					Error("consumer exited")
			}
		}(sub)
	}

	var srv = &http.Server{Addr: a.Addr, Handler: a.Router}
	var serveErr = make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	log.WithFields(log.Fields{"service": a.Name, "addr": a.Addr}).Info("listening")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	wg.Wait()

	if a.Cleanup != nil {
		a.Cleanup()
	}
	log.WithField("service", a.Name).Info("stopped")
	return runErr
}
