package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/repositories"
	"github.com/hanko-field/orderledger/internal/services"
)

const tracerName = "github.com/hanko-field/orderledger/internal/services"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders        services.OrderService
	Notifications *services.NotificationDispatcher
	Delivery      *services.NotificationDeliveryService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises the collaborators handed to the services.
type Option func(*options)

type options struct {
	publisher services.NotificationPublisher
	mailer    services.Mailer
	metrics   services.Metrics
	tracking  services.TrackingURLGenerator
	logger    *zap.Logger
	build     services.BuildInfo
	clock     func() time.Time
}

// WithPublisher sets the transport notification envelopes are published to.
func WithPublisher(publisher services.NotificationPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithMailer sets the mailer used by push deliveries.
func WithMailer(mailer services.Mailer) Option {
	return func(o *options) { o.mailer = mailer }
}

// WithMetrics sets the domain metrics sink.
func WithMetrics(metrics services.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithTrackingURLs overrides the carrier tracking URL generator.
func WithTrackingURLs(tracking services.TrackingURLGenerator) Option {
	return func(o *options) { o.tracking = tracking }
}

// WithLogger sets the base logger services derive their event loggers from.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBuildInfo sets the build metadata reported by readiness checks.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close drains the notification queue before releasing repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Notifications != nil {
		if err := c.Services.Notifications.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notification dispatcher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services

	if o.publisher != nil {
		dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
			Publisher:      o.publisher,
			Metrics:        o.metrics,
			Clock:          o.clock,
			Logger:         observability.EventLogger(o.logger, "notifications"),
			QueueSize:      cfg.Notifications.QueueSize,
			Workers:        cfg.Notifications.Workers,
			PublishTimeout: cfg.Notifications.PublishTimeout,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
		}
		svc.Notifications = dispatcher
	}

	if o.mailer != nil {
		delivery, err := services.NewNotificationDeliveryService(o.mailer, o.metrics, observability.EventLogger(o.logger, "delivery"))
		if err != nil {
			return Services{}, fmt.Errorf("build notification delivery: %w", err)
		}
		svc.Delivery = delivery
	}

	tracking := o.tracking
	if tracking == nil {
		tracking = services.NewCarrierTrackingURLs(nil)
	}
	orderDeps := services.OrderServiceDeps{
		Orders:       reg.Orders(),
		Products:     reg.Products(),
		Counters:     reg.Counters(),
		UnitOfWork:   reg,
		Tracking:     tracking,
		Metrics:      o.metrics,
		Tracer:       otel.Tracer(tracerName),
		Clock:        o.clock,
		Logger:       observability.EventLogger(o.logger, "orders"),
		NumberPrefix: cfg.Orders.NumberPrefix,
		CounterID:    cfg.Orders.CounterID,
	}
	if svc.Notifications != nil {
		orderDeps.Notifier = svc.Notifications
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := o.build
		if build.StartedAt.IsZero() {
			build.StartedAt = o.clock().UTC()
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemDeps := services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            o.clock,
			Build:            build,
		}
		if svc.Notifications != nil {
			systemDeps.Notifications = svc.Notifications
		}
		systemSvc, err := services.NewSystemService(systemDeps)
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
