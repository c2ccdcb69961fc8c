package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/verkstad/toolmgmt/internal/adambox"
	"github.com/verkstad/toolmgmt/internal/api"
	"github.com/verkstad/toolmgmt/internal/audit"
	"github.com/verkstad/toolmgmt/internal/auth"
	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
	"github.com/verkstad/toolmgmt/internal/infrastructure/influxdb"
	"github.com/verkstad/toolmgmt/internal/infrastructure/logging"
	"github.com/verkstad/toolmgmt/internal/infrastructure/mqtt"
	"github.com/verkstad/toolmgmt/internal/logbook"
	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/monitormi"
	"github.com/verkstad/toolmgmt/internal/relay"
	"github.com/verkstad/toolmgmt/internal/tool"
)

// auditQueueSize is the number of audit entries buffered ahead of the writer.
const auditQueueSize = 256

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tool management service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe starts every configured component and blocks until ctx is
// cancelled or a component fails.
func runServe(ctx context.Context, opts *globalOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting toolmgmt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded",
		"path", opts.resolveConfigPath(),
		"site", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	db, err := openDatabase(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		closeDatabase(db, log)
	}()

	registry := machine.NewRegistry(
		machine.NewSQLiteRepository(db.DB),
		machine.WithFetchTimeout(cfg.Registry.FetchTimeoutDuration()),
	)
	registry.SetLogger(log.Component("registry"))

	users := auth.NewUserRepository(db.DB)
	admin := cfg.Security.InitialAdmin
	if _, seedErr := auth.SeedAdmin(ctx, users, admin.Username, admin.Password, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	health := map[string]api.HealthChecker{"database": db}

	// Relay fans counter readings, status changes and logbook entries out to
	// MQTT and InfluxDB. With both disabled it does nothing.
	fanout := relay.New(mqtt.NewTopics(cfg.MQTT.TopicPrefix), byte(cfg.MQTT.QoS), cfg.MQTT.Broker.ClientID)
	fanout.SetLogger(log.Component("relay"))
	var invalidator api.InvalidationRequester

	if cfg.MQTT.Enabled {
		mqttClient, connErr := connectMQTT(cfg, log)
		if connErr != nil {
			return connErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		fanout.SetPublisher(mqttClient)
		if subErr := fanout.ListenInvalidate(mqttClient, registry); subErr != nil {
			return fmt.Errorf("subscribing to registry invalidation: %w", subErr)
		}
		invalidator = fanout
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		fanout.SetPointWriter(influxClient)
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	logRepo := logbook.NewSQLiteRepository(db.DB)
	logbookSvc := logbook.NewService(logRepo, registry)
	logbookSvc.SetLogger(log.Component("logbook"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, auditQueueSize)
	recorder.SetLogger(log.Component("audit"))

	deps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Metrics:       cfg.Metrics,
		Logger:        log.Component("api"),
		Registry:      registry,
		Logbook:       logbookSvc,
		Tools:         tool.NewService(tool.NewSQLiteRepository(db.DB), logRepo),
		Users:         users,
		MachineAccess: auth.NewMachineAccessRepository(db.DB),
		AuditRepo:     auditRepo,
		Audit:         recorder,
		Invalidator:   invalidator,
		Health:        health,
		Version:       version,
	}

	var watcher *monitormi.Watcher
	if cfg.MonitorMI.Enabled {
		client, connErr := monitormi.Connect(ctx, monitormi.Config{
			DSN:          cfg.MonitorMI.DSN,
			Schema:       cfg.MonitorMI.Schema,
			QueryTimeout: cfg.MonitorMI.QueryTimeoutDuration(),
			MaxConns:     int32(cfg.MonitorMI.MaxConns), //nolint:gosec // validated to a small positive number
		})
		if connErr != nil {
			return fmt.Errorf("connecting to Monitor MI: %w", connErr)
		}
		defer func() {
			log.Info("closing Monitor MI pool")
			client.Close()
		}()
		log.Info("Monitor MI connected", "schema", cfg.MonitorMI.Schema)

		logbookSvc.SetOrderSource(client)
		deps.Production = client
		health["monitor_mi"] = api.HealthCheckFunc(client.Ping)

		watcher = monitormi.NewWatcher(client, registry, cfg.MonitorMI.PollIntervalDuration())
		watcher.SetLogger(log.Component("monitor_mi"))
		watcher.AddSink(fanout)
	} else {
		log.Info("Monitor MI disabled")
	}

	var poller *adambox.Poller
	if cfg.AdamBox.Enabled {
		reader := adambox.NewReader(adambox.Config{
			Port:     cfg.AdamBox.Port,
			UnitID:   cfg.AdamBox.UnitID,
			Register: cfg.AdamBox.Register,
			Timeout:  cfg.AdamBox.TimeoutDuration(),
		})
		logbookSvc.SetPartsCounter(reader)
		deps.Counters = reader

		poller = adambox.NewPoller(reader, registry, cfg.AdamBox.PollIntervalDuration())
		poller.SetLogger(log.Component("adambox"))
		poller.AddSink(fanout)
		log.Info("AdamBox polling enabled", "register", cfg.AdamBox.Register, "interval", cfg.AdamBox.PollIntervalDuration())
	} else {
		log.Info("AdamBox disabled")
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Websocket clients see the same events as the broker.
	hub := srv.Hub()
	logbookSvc.SetPublisher(logbook.Publishers{hub, fanout})
	if watcher != nil {
		watcher.AddSink(hub)
	}
	if poller != nil {
		poller.AddSink(hub)
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed", "components", len(health))

	return serveUntilDone(ctx, log, cfg, registry, recorder, watcher, poller, srv)
}

// serveUntilDone runs the background loops and the API server until ctx is
// cancelled or one of them fails.
func serveUntilDone(
	ctx context.Context,
	log *logging.Logger,
	cfg *config.Config,
	registry *machine.Registry,
	recorder *audit.Recorder,
	watcher *monitormi.Watcher,
	poller *adambox.Poller,
	srv *api.Server,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return registry.Run(gctx, cfg.Registry.RefreshIntervalDuration())
	})
	g.Go(func() error {
		recorder.Run(gctx)
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if poller != nil {
		g.Go(func() error { return poller.Run(gctx) })
	}

	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("toolmgmt stopped")
	return nil
}

// connectMQTT connects to the broker and wires connection logging.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// healthCheck verifies every registered component once.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
