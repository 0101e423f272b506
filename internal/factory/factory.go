package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"visitgate/internal/auth"
	"visitgate/internal/client"
	"visitgate/internal/config"
	"visitgate/internal/models"
	"visitgate/internal/ratelimit"
	redisrepo "visitgate/internal/repository/redis"
	"visitgate/internal/security"
	"visitgate/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Abuse-prevention components
	store    ratelimit.CounterStore
	limiter  *ratelimit.WindowLimiter
	tracker  *ratelimit.BruteForceTracker
	policies map[string]ratelimit.Policy
	reporter *security.Reporter
	verifier auth.Verifier

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.Load()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{config: cfg}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeComponents(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("redis_backed", factory.redisClient != nil),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.ClickHouse.Enabled),
		util.Bool("rate_limit_disabled", cfg.RateLimit.Disabled),
	)

	return factory, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis is optional: without it the service runs on the in-process
	// counter store and cannot coordinate limits across instances.
	if f.config.Redis.URL != "" {
		redisClient, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
	} else {
		util.Warn("No Redis URL configured, using in-process counter store (single instance only)")
	}

	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaProducer = producer
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			util.Warn("Kafka health check failed, events may be dropped", util.ErrorField(err))
		}
	}

	if f.config.ClickHouse.Enabled {
		chClient, err := client.NewClickHouseClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed, event archival may lag", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeComponents() error {
	if f.redisClient != nil {
		f.store = redisrepo.NewCounterStore(f.redisClient)
	} else {
		f.store = ratelimit.NewMemoryStore()
	}

	sinks := []security.Sink{security.NewLogSink(util.Get())}
	if f.kafkaProducer != nil {
		sinks = append(sinks, security.NewKafkaSink(f.kafkaProducer, f.config.Kafka.Topic))
	}
	if f.clickhouseClient != nil {
		chSink := security.NewClickHouseSink(f.clickhouseClient, f.config.ClickHouse.Table)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := chSink.EnsureSchema(ctx); err != nil {
			cancel()
			_ = chSink.Close()
			return fmt.Errorf("clickhouse schema: %w", err)
		}
		cancel()
		sinks = append(sinks, chSink)
	}
	f.reporter = security.NewReporter(0, sinks...)

	f.policies = ratelimit.DefaultPolicies()
	f.limiter = ratelimit.NewWindowLimiter(f.store, f.config.RateLimit.Disabled)
	if f.config.RateLimit.Disabled {
		f.reporter.Report(security.NewEvent(
			models.EventLimiterBypassed,
			models.SeverityCritical,
			"window limiter enforcement disabled by configuration",
			"", "", nil,
		))
	}

	f.tracker = ratelimit.NewBruteForceTracker(f.store, f.config.BruteForce, f.reporter)

	verifier, err := auth.NewStaticVerifier(f.config.Auth.Users)
	if err != nil {
		return fmt.Errorf("verifier: %w", err)
	}
	f.verifier = verifier

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) WindowLimiter() *ratelimit.WindowLimiter {
	return f.limiter
}

func (f *Factory) Policies() map[string]ratelimit.Policy {
	return f.policies
}

func (f *Factory) Tracker() *ratelimit.BruteForceTracker {
	return f.tracker
}

func (f *Factory) Reporter() *security.Reporter {
	return f.reporter
}

func (f *Factory) Verifier() auth.Verifier {
	return f.verifier
}

// Close tears dependencies down in reverse order of creation.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.reporter != nil {
			if err := f.reporter.Close(); err != nil {
				util.Error("Failed to close event reporter", util.ErrorField(err))
			}
		}
		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Sync()
	})
}
