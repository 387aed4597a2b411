package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/cache"
	"alarm-engine/internal/alarms/infrastructure/memory"
	alarmrepo "alarm-engine/internal/alarms/infrastructure/postgres"
	"alarm-engine/internal/alarms/infrastructure/rulefile"
	ingest "alarm-engine/internal/alarms/interfaces"
	alarmhttp "alarm-engine/internal/alarms/interfaces/http"
	alarmmqtt "alarm-engine/internal/alarms/interfaces/mqtt"
	"alarm-engine/internal/alarms/notify"
	"alarm-engine/internal/audit"
	"alarm-engine/internal/auth"
	"alarm-engine/internal/config"
	"alarm-engine/internal/observability/metrics"
	"alarm-engine/migrations"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alarm engine with its HTTP and MQTT endpoints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

type alarmRepository interface {
	alarmapp.AlarmStore
	alarmapp.AlarmQuery
}

type ownershipRepository interface {
	alarmapp.OwnershipResolver
	alarmapp.RelationResolver
	ingest.OwnershipWriter
}

type attributeRepository interface {
	alarmapp.AttributeStore
	ingest.AttributeRecorder
}

// stores groups the persistence adapters selected by configuration.
type stores struct {
	db         *sql.DB
	alarms     alarmRepository
	attributes attributeRepository
	owners     ownershipRepository
	states     alarmapp.RuleStateStore
	rules      alarmapp.RuleSource
	audit      audit.Logger
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{}
	switch cfg.Store {
	case config.StoreMemory:
		s.alarms = memory.NewAlarmStore()
		s.attributes = memory.NewAttributeStore()
		s.owners = memory.NewDirectory()
		s.states = memory.NewRuleStateStore()
		logger.Warn("using in-memory stores; alarms and states are lost on restart")
	default:
		db, err := openDB(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := migrations.Apply(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
			logger.Info("migrations applied")
		}
		s.db = db
		s.alarms = alarmrepo.NewAlarmRepository(db)
		s.attributes = alarmrepo.NewAttributeRepository(db)
		s.owners = alarmrepo.NewOwnershipRepository(db)
		s.states = alarmrepo.NewAlarmRuleStateRepository(db)
		s.audit = audit.NewRepository(db)
	}

	switch cfg.Rules.Source {
	case config.RulesFile:
		source, err := rulefile.NewSource(cfg.Rules.File)
		if err != nil {
			s.close()
			return nil, err
		}
		s.rules = source
	default:
		s.rules = alarmrepo.NewAlarmRuleRepository(s.db)
	}
	return s, nil
}

func (s *stores) close() {
	if s != nil && s.db != nil {
		_ = s.db.Close()
	}
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// attributeSource puts the configured cache in front of the attribute store.
func attributeSource(ctx context.Context, cfg config.Config, backend alarmapp.AttributeStore, logger *zap.Logger) (alarmapp.AttributeStore, func(), error) {
	switch cfg.Cache.Kind {
	case config.CacheMemory:
		cached, err := cache.NewAttributeStore(backend, cache.NewMemoryCache(cfg.Cache.TTL), logger)
		return cached, func() {}, err
	case config.CacheRedis:
		client := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		redisCache, err := cache.NewRedisCache(client, cfg.Cache.TTL)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		cached, err := cache.NewAttributeStore(backend, redisCache, logger)
		return cached, func() { _ = client.Close() }, err
	default:
		return backend, func() {}, nil
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()
	metrics.Init(st.db, logger)

	attributes, closeCache, err := attributeSource(ctx, cfg, st.attributes, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	resolver, err := alarmapp.NewResolver(attributes,
		alarmapp.WithFetchTimeout(cfg.Engine.AttributeFetchTimeout),
		alarmapp.WithResolverLogger(logger))
	if err != nil {
		return err
	}

	broker := alarmhttp.NewSSEBroker()
	publishers := []alarmapp.LifecyclePublisher{broker}

	if cfg.Webhook.URL != "" {
		notifier, err := newWebhookNotifier(cfg.Webhook, st.alarms, logger)
		if err != nil {
			return err
		}
		defer notifier.Close()
		publishers = append(publishers, notifier)
	}

	var mqttClient alarmmqtt.Client
	if cfg.MQTT.Broker != "" {
		client, err := notify.NewMQTTClient(ctx, notify.MQTTClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		publisher, err := notify.NewMQTTPublisher(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS)
		if err != nil {
			return err
		}
		publishers = append(publishers, publisher)
		mqttClient = client
		logger.Info("mqtt connected", zap.String("broker", cfg.MQTT.Broker))
	}
	publisher := notify.NewMultiPublisher(publishers...)

	engine, err := alarmapp.NewEngine(st.rules, resolver, st.owners, st.alarms,
		alarmapp.WithWorkers(cfg.Engine.Workers),
		alarmapp.WithQueueSize(cfg.Engine.QueueSize),
		alarmapp.WithRetry(cfg.Engine.RetryAttempts, cfg.Engine.RetryBackoff),
		alarmapp.WithDurationPolicy(alarmapp.DurationPolicy(strings.ToLower(cfg.Engine.DurationSchedulePolicy))),
		alarmapp.WithPublisher(publisher),
		alarmapp.WithRelations(st.owners),
		alarmapp.WithStateStore(st.states),
		alarmapp.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := engine.ReloadRules(ctx); err != nil {
		if !errors.Is(err, alarms.ErrInvalidRule) {
			return err
		}
		logger.Warn("some rules were rejected", zap.Error(err))
	}

	serviceOpts := []alarmapp.ServiceOption{
		alarmapp.WithServicePublisher(publisher),
		alarmapp.WithServiceLogger(logger),
	}
	if st.audit != nil {
		serviceOpts = append(serviceOpts, alarmapp.WithAuditLogger(st.audit))
	}
	service, err := alarmapp.NewService(st.alarms, st.alarms, engine, serviceOpts...)
	if err != nil {
		return err
	}
	ingestor, err := ingest.NewIngestor(engine,
		ingest.WithRecorder(st.attributes),
		ingest.WithOwnershipWriter(st.owners),
		ingest.WithIngestLogger(logger))
	if err != nil {
		return err
	}

	handler, err := buildHandler(cfg, service, engine, ingestor, broker, logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	engine.Start(ctx)
	defer engine.Stop()

	var subscriber *alarmmqtt.Subscriber
	if mqttClient != nil && cfg.MQTT.InboundTopic != "" {
		subscriber, err = alarmmqtt.NewSubscriber(mqttClient, ingestor, cfg.MQTT.InboundTopic, cfg.MQTT.QoS, logger)
		if err != nil {
			return err
		}
		if err := subscriber.Start(ctx); err != nil {
			return err
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		alarmapp.NewHousekeeper(engine, cfg.Engine.HousekeepingInterval, cfg.Rules.ReloadInterval, logger).Run(ctx)
		return nil
	})
	if subscriber != nil {
		group.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return subscriber.Stop(stopCtx)
		})
	}
	group.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	logger.Info("shutting down")
	return err
}

func newWebhookNotifier(cfg config.WebhookConfig, reader notify.AlarmReader, logger *zap.Logger) (*notify.Notifier, error) {
	var opts []notify.WebhookOption
	if cfg.Secret != "" {
		opts = append(opts, notify.WithSigningSecret([]byte(cfg.Secret)))
	}
	channel, err := notify.NewWebhookChannel(cfg.URL, cfg.Timeout, opts...)
	if err != nil {
		return nil, err
	}
	template, err := notify.NewTemplate(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("notify template: %w", err)
	}
	return notify.NewNotifier(reader, channel, template,
		notify.WithCooldown(cfg.Cooldown),
		notify.WithDedupeWindow(cfg.DedupeWindow),
		notify.WithRequestTimeout(cfg.Timeout),
		notify.WithLogger(logger))
}

func buildHandler(cfg config.Config, service *alarmapp.Service, reloader alarmhttp.RuleReloader, ingester alarmhttp.Ingester, broker *alarmhttp.SSEBroker, logger *zap.Logger) (http.Handler, error) {
	alarmHandler, err := alarmhttp.NewHandler(service, reloader, logger)
	if err != nil {
		return nil, err
	}
	ingestHandler, err := alarmhttp.NewIngestHandler(ingester, logger)
	if err != nil {
		return nil, err
	}
	ingestAuth := auth.NewIngestSignature([]byte(cfg.Auth.IngestSecret), time.Duration(cfg.Auth.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/events", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/rules/reload", alarmHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.Auth.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/api/v1/events"}, nil)
		handler = auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy).Wrap(mux)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set; alarm API is unauthenticated")
	}
	return loggingMiddleware(handler, logger), nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
