package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"digipin/internal/api"
	"digipin/internal/buildinfo"
	"digipin/internal/config"
	"digipin/internal/events"
	"digipin/internal/geocode"
	"digipin/internal/integrations/csvstops"
	"digipin/internal/jobs"
	"digipin/internal/metrics"
	"digipin/internal/routing"
	"digipin/internal/store"
	"digipin/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	metrics.RegisterDefault()
	ctx := context.Background()

	// Storage
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		st = pg
	} else {
		log.Printf("store: DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	// Events and geocode cache share one Redis client when configured.
	var broker events.Broker = events.NewMemoryBroker()
	var cache geocode.Cache = geocode.NewMemoryCache()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rdb := redis.NewClient(opt)
		rb := events.NewRedisBrokerClient(rdb)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rb.Ping(pctx)
		cancel()
		if err != nil {
			log.Printf("redis: ping failed, falling back to in-memory broker: %v", err)
			_ = rdb.Close()
		} else {
			defer rb.Close()
			broker = rb
			cache = geocode.NewRedisCache(rdb)
		}
	}

	var sink events.Sink
	if cfg.RabbitMQURL != "" {
		as, err := events.NewAMQPSink(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("amqp: %v; job events will not be published to the bus", err)
		} else {
			defer as.Close()
			sink = as
		}
	}

	var provider geocode.Provider
	if cfg.GoogleMapsAPIKey != "" {
		g, err := geocode.NewGoogle(cfg.GoogleMapsAPIKey, "")
		if err != nil {
			log.Fatalf("geocode: %v", err)
		}
		provider = g
	} else {
		provider = geocode.NewNominatim(cfg.NominatimURL, cfg.GeocodeUserAgent, nil)
	}
	geocoder := geocode.NewCached(provider, cache, cfg.GeocodeCacheTTL)

	optimizer := routing.New(nil, cfg.Optimizer)

	hooks := webhooks.NewPublisher(st, cfg.WebhookSecret)
	worker := webhooks.NewWorker(st, cfg.WebhookMaxAttempts)
	worker.Start()
	defer worker.Stop()

	jm := jobs.NewManager(st, optimizer, broker, jobs.Options{
		Workers:   cfg.JobWorkers,
		QueueSize: cfg.JobQueueSize,
		Timeout:   cfg.Optimizer.TimeLimit + 10*time.Second,
		Algo:      cfg.Optimizer.Metaheuristic,
	})
	jm.Sink = sink
	jm.Hooks = hooks
	jm.Start()
	defer jm.Stop()

	srv := &api.Server{
		Store:     st,
		Optimizer: optimizer,
		Jobs:      jm,
		Broker:    broker,
		Geocoder:  geocoder,
		Stops:     csvstops.Adapter{},
		Limiter:   api.NewClientLimiter(cfg.RateRPS, cfg.RateBurst),
		Config:    cfg,
	}
	if n, err := srv.SeedServiceAreas(ctx, cfg.ServiceAreas); err != nil {
		log.Fatalf("seed service areas: %v", err)
	} else if n > 0 {
		log.Printf("seeded %d service areas", n)
	}

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	bi := buildinfo.Info()
	log.Printf("API listening on %s version=%s commit=%s geocoder=%s", addr, bi["version"], bi["commit"], provider.Name())
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
