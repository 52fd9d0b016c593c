package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"energymon/internal/handlers"
	"energymon/internal/logger"
	"energymon/internal/metrics"
	"energymon/internal/registry"
	"energymon/internal/repository"
	"energymon/internal/repository/db"
	"energymon/internal/server"
	"energymon/internal/service"
	"energymon/internal/stream"
)

func main() {
	// init logger
	log := logger.Get(logger.InfoLevel)

	// load config.yml
	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open DB
	conn, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// connect to the upstream event stream; without it the process must not serve
	source, err := stream.NewNATSSource(
		viper.GetString("nats.url"),
		viper.GetString("nats.subject_prefix"),
		log,
	)
	if err != nil {
		log.Fatalw("invalid upstream stream configuration", "err", err)
	}
	defer source.Close()

	met := metrics.New()
	if err := met.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalw("failed to register metrics", "err", err)
	}

	// wire dependencies
	repos := repository.NewRepository(conn)
	reg := registry.New(source, service.NewTelemetrySink(repos.Measurements), log, met, registry.Options{
		SweepInterval:     viper.GetDuration("registry.sweep_interval"),
		InactivityTimeout: viper.GetDuration("registry.inactivity_timeout"),
	})
	services := service.NewService(reg, repos)
	apiHandler := handlers.NewHandler(services, log, conn, handlers.Config{
		APIKey:        viper.GetString("api_key"),
		DefaultDevice: viper.GetString("default_device"),
	})

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// start the idle reaper
	go reg.Run(ctx)

	// pre-open the default device's subscription, if one is configured
	if dev := viper.GetString("default_device"); dev != "" {
		reg.Register(dev)
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, reg, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "energymon.db")
		dbPath = "energymon.db"
	}
	return db.InitDB(dbPath)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and tears everything down:
// background loops first, then the device subscriptions, then the listener.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, reg *registry.Registry, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop the reaper, then close every device subscription
	cancel()
	reg.Close()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
