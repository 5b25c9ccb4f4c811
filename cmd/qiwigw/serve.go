package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattjoyce/qiwigo/internal/config"
	"github.com/mattjoyce/qiwigo/internal/delivery"
	"github.com/mattjoyce/qiwigo/internal/dispatch"
	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/lock"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/metrics"
	"github.com/mattjoyce/qiwigo/internal/poller"
	"github.com/mattjoyce/qiwigo/internal/wallet"
	"github.com/mattjoyce/qiwigo/internal/webhook"
)

func runServe(args []string) int {
	fs, configPath := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)
	logger := log.WithComponent("main")
	logger.Info("qiwigw starting", "version", version, "config", cfg.SourcePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, metrics.New())
	if err != nil {
		logger.Error("failed to start gateway", "error", err)
		return 1
	}
	defer gw.Close()

	logger.Info("qiwigw running (press Ctrl+C to stop)",
		"listen", gw.webhookConfig.Listen,
		"handlers", gw.dispatcher.Len(),
		"delivery_backend", cfg.Delivery.Backend,
		"polling", gw.poller != nil,
	)

	var wg sync.WaitGroup
	if gw.poller != nil {
		wg.Go(func() { _ = gw.poller.Start(ctx) })
	}
	err = gw.server.Start(ctx)
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("webhook server failed", "error", err)
		return 1
	}

	logger.Info("qiwigw stopped")
	return 0
}

// gateway is the wired webhook receiver.
type gateway struct {
	webhookConfig webhook.Config
	dispatcher    *dispatch.Dispatcher
	store         delivery.Store
	server        *webhook.Server
	poller        *poller.Poller
	wallet        *wallet.Client
	instance      *lock.InstanceLock
}

func newGateway(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*gateway, error) {
	logger := log.WithComponent("main")

	wc, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure webhooks: %w", err)
	}
	if wc.TransactionKey == "" && cfg.Wallet.Token != "" {
		key, err := fetchTransactionKey(ctx, cfg, m)
		if err != nil {
			logger.Warn("could not fetch webhook key; transaction path disabled", "error", err)
		} else {
			wc.TransactionKey = key
			logger.Info("fetched webhook key from wallet API")
		}
	}
	if wc.TransactionKey == "" && wc.BillSecret == "" {
		return nil, fmt.Errorf("no webhook secret configured: set webhooks.transaction_key, wallet.token or p2p.secret_key")
	}

	d, err := buildDispatcher(cfg.Handlers, m)
	if err != nil {
		return nil, err
	}

	// A sqlite delivery database belongs to one gateway process.
	var instance *lock.InstanceLock
	if cfg.Delivery.Backend == "sqlite" {
		instance, err = lock.Acquire(lock.PathFor(cfg.Delivery.Path))
		if err != nil {
			return nil, err
		}
		logger.Info("acquired instance lock", "path", instance.Path())
	}

	store, err := delivery.Open(ctx, delivery.Config{
		Backend:       cfg.Delivery.Backend,
		Retention:     cfg.Delivery.Retention,
		Path:          cfg.Delivery.Path,
		RedisAddr:     cfg.Delivery.Redis.Addr,
		RedisPassword: cfg.Delivery.Redis.Password,
		RedisDB:       cfg.Delivery.Redis.DB,
	})
	if err != nil {
		_ = instance.Release()
		return nil, fmt.Errorf("open delivery store: %w", err)
	}

	gw := &gateway{webhookConfig: wc, dispatcher: d, store: store, instance: instance}
	gw.server = webhook.New(wc, d, log.WithComponent("webhook"),
		webhook.WithDeliveryStore(store),
		webhook.WithMetrics(m),
	)

	if cfg.Polling.Enabled {
		gw.wallet, err = newWalletClient(cfg, m)
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("configure history polling: %w", err)
		}
		gw.poller = poller.New(pollerConfig(cfg.Polling), gw.wallet, d,
			poller.WithDeliveryStore(store),
			poller.WithMetrics(m),
		)
	}
	return gw, nil
}

func pollerConfig(pc config.PollingConfig) poller.Config {
	return poller.Config{
		Every:            pc.Every,
		Jitter:           pc.Jitter,
		Lookback:         pc.Lookback,
		Rows:             pc.Rows,
		FailureThreshold: pc.FailureThreshold,
		ResetAfter:       pc.ResetAfter,
	}
}

func (g *gateway) Close() {
	logger := log.WithComponent("main")
	if g.wallet != nil {
		g.wallet.Close()
	}
	if err := g.store.Close(); err != nil {
		logger.Warn("failed to close delivery store", "error", err)
	}
	if err := g.instance.Release(); err != nil {
		logger.Warn("failed to release instance lock", "error", err)
	}
}

// fetchTransactionKey asks the wallet API for the active hook's signing key.
func fetchTransactionKey(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (string, error) {
	client, err := newWalletClient(cfg, m)
	if err != nil {
		return "", err
	}
	defer client.Close()

	hook, err := client.CurrentWebhook(ctx)
	if err != nil {
		return "", err
	}
	return client.WebhookSecret(ctx, hook.ID)
}

// buildDispatcher registers the configured log handlers and freezes the result.
func buildDispatcher(handlers []config.HandlerConfig, m *metrics.Metrics) (*dispatch.Dispatcher, error) {
	d := dispatch.New(dispatch.WithLogger(log.WithComponent("dispatch")), dispatch.WithMetrics(m))

	for _, hc := range handlers {
		var filters []dispatch.Filter
		if hc.Filter != "" {
			f, err := dispatch.NewExprFilter(hc.Filter)
			if err != nil {
				return nil, fmt.Errorf("handler %q: %w", hc.Name, err)
			}
			filters = append(filters, f)
		}

		logger := log.WithComponent("handler")
		level := log.ParseLevel(hc.Level)

		var err error
		switch hc.Event {
		case string(event.KindTransaction):
			err = dispatch.On[*event.Transaction](d, &logHandler[*event.Transaction]{hc.Name, level, logger}, filters...)
		case string(event.KindBill):
			err = dispatch.On[*event.BillWebhook](d, &logHandler[*event.BillWebhook]{hc.Name, level, logger}, filters...)
		default:
			err = dispatch.On[event.Event](d, &logHandler[event.Event]{hc.Name, level, logger}, filters...)
		}
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", hc.Name, err)
		}
	}

	d.Freeze()
	return d, nil
}

// logHandler writes every matching event to the log.
type logHandler[E event.Event] struct {
	name   string
	level  slog.Level
	logger *slog.Logger
}

func (h *logHandler[E]) Name() string {
	return h.name
}

func (h *logHandler[E]) Handle(ctx context.Context, ev E) error {
	h.logger.Log(ctx, h.level, "webhook event",
		"handler", h.name,
		"event_kind", string(ev.Kind()),
		"delivery_key", ev.DeliveryKey(),
		"event", ev.FilterEnv(),
	)
	return nil
}

func newWalletClient(cfg *config.Config, m *metrics.Metrics) (*wallet.Client, error) {
	return wallet.New(wallet.Config{
		Token:       cfg.Wallet.Token,
		PhoneNumber: cfg.Wallet.PhoneNumber,
		BaseURL:     cfg.Wallet.BaseURL,
		Request:     requestConfig(cfg, "wallet", m),
	})
}
