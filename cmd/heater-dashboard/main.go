// Command heater-dashboard reconciles heater state from MQTT and a document
// store and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/sweeney/heater-dashboard/internal/config"
	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/docstore/mongostore"
	"github.com/sweeney/heater-dashboard/internal/docstore/sqlitestore"
	"github.com/sweeney/heater-dashboard/internal/logger"
	"github.com/sweeney/heater-dashboard/internal/metrics"
	"github.com/sweeney/heater-dashboard/internal/mqtt"
	"github.com/sweeney/heater-dashboard/internal/session"
	"github.com/sweeney/heater-dashboard/internal/status"
	"github.com/sweeney/heater-dashboard/internal/topics"
	"github.com/sweeney/heater-dashboard/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("Fatal", "error", err)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	store, err := openStore(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			log.Warnw("Close store failed", "error", err)
		}
	}()

	ts := topics.New(cfg.Namespace, cfg.PresenceNamespace)
	bus := mqtt.New(busOptions(cfg, ts), log.Named("mqtt"))

	tracker := status.NewTracker(time.Now(), status.Config{
		Namespace:  cfg.Namespace,
		Broker:     cfg.MQTT.Broker,
		Store:      storeLabel(cfg.Store),
		HTTPAddr:   cfg.HTTP.Addr,
		StaleAfter: cfg.StaleAfter,
	})
	m := metrics.New()

	sess := session.New(session.Config{
		Topics: ts,
		Credentials: mqtt.Credentials{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		},
		HistorySize: cfg.HistorySize,
	}, session.Deps{
		Bus:     bus,
		Store:   store,
		Tracker: tracker,
		Metrics: m,
		Log:     log,
	})

	if cfg.HTTP.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := web.New(web.Options{
			Addr:         cfg.HTTP.Addr,
			PasswordHash: cfg.HTTP.PasswordHash,
			JWTSecret:    cfg.HTTP.JWTSecret,
			TokenTTL:     cfg.HTTP.TokenTTL,
		}, tracker, sess, m.Handler(), log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("HTTP server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		log.Infow("HTTP server listening", "addr", cfg.HTTP.Addr, "auth", cfg.HTTP.AuthEnabled())
	}

	log.Infow("Started",
		"namespace", cfg.Namespace,
		"presence_namespace", cfg.PresenceNamespace,
		"broker", cfg.MQTT.Broker,
		"store", storeLabel(cfg.Store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessErr := make(chan error, 1)
	go func() { sessErr <- sess.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return runLoop(sessErr, sigCh, cancel, func() error { return sess.Reconnect(ctx) }, log)
}

// runLoop waits for the session to end or a signal. SIGHUP reconnects both
// transports; anything else shuts down.
func runLoop(sessErr <-chan error, sig <-chan os.Signal, cancel context.CancelFunc, reconnect func() error, log *logger.Logger) error {
	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				log.Infow("Received SIGHUP, reconnecting")
				if err := reconnect(); err != nil {
					log.Warnw("Reconnect failed", "error", err)
				}
				continue
			}
			log.Infow("Shutting down", "signal", s.String())
			cancel()
			return <-sessErr
		case err := <-sessErr:
			if err != nil {
				return fmt.Errorf("session: %w", err)
			}
			return nil
		}
	}
}

func openStore(cfg config.Store, log *logger.Logger) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		return mongostore.New(mongostore.Options{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Username:       cfg.Mongo.Username,
			Password:       cfg.Mongo.Password,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
			OpTimeout:      cfg.Mongo.OpTimeout,
		}, log.Named("mongo")), nil
	case config.BackendSQLite:
		db, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return sqlitestore.New(db, cfg.SQLite.PollInterval, log.Named("sqlite")), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func busOptions(cfg config.Config, ts topics.Set) mqtt.Options {
	return mqtt.Options{
		Topics:         ts,
		ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
		RetryInterval:  cfg.MQTT.RetryInterval,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		KeepAlive:      cfg.MQTT.KeepAlive,
		MaxAttempts:    cfg.MQTT.MaxAttempts,
	}
}

func storeLabel(cfg config.Store) string {
	switch cfg.Backend {
	case config.BackendMongo:
		return "mongo:" + cfg.Mongo.Database
	case config.BackendSQLite:
		return "sqlite:" + cfg.SQLite.Path
	}
	return cfg.Backend
}
