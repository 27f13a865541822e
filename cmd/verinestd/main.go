// Command verinestd is the daemon entry point: it loads configuration,
// opens Postgres and Redis, wires every core collaborator together,
// and serves the REST and gRPC health surfaces until an interrupt
// signal arrives. Structured the way lnd.go's lndMain/main split does
// — a "real main" that returns an error so deferred cleanups still run
// on a clean exit, and a thin main that turns that error into an exit
// code.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/authtoken"
	"github.com/chigozirigeorge/verinest/chatdb"
	"github.com/chigozirigeorge/verinest/chron"
	"github.com/chigozirigeorge/verinest/config"
	"github.com/chigozirigeorge/verinest/escrow"
	"github.com/chigozirigeorge/verinest/grpcapi"
	"github.com/chigozirigeorge/verinest/httpapi"
	"github.com/chigozirigeorge/verinest/labor"
	"github.com/chigozirigeorge/verinest/metrics"
	"github.com/chigozirigeorge/verinest/notify"
	"github.com/chigozirigeorge/verinest/orders"
	"github.com/chigozirigeorge/verinest/pgstore"
	"github.com/chigozirigeorge/verinest/property"
	"github.com/chigozirigeorge/verinest/provider"
	"github.com/chigozirigeorge/verinest/rcache"
	"github.com/chigozirigeorge/verinest/walletdb"
)

var log = logrus.WithField("subsystem", "verinestd")

// processFlags covers the handful of settings that make sense to flip
// per-invocation rather than per-environment, the same split lnd.go
// draws between its flags-parsed config struct and longer-lived
// settings. Everything else (database/redis URLs, secrets, the
// payment provider selection) stays in config.Load's env vars, since
// those belong to the deployment, not the process launch.
type processFlags struct {
	LogLevel string `long:"loglevel" default:"info" description:"log level: debug, info, warn, error"`
}

func parseProcessFlags() (*processFlags, error) {
	pf := &processFlags{}
	parser := flags.NewParser(pf, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}
	return pf, nil
}

// subscriptionNotifyAdapter lets chron's narrow SubscriptionNotifier
// interface ride on the same notify.Dispatcher every other collaborator
// sends through, instead of special-casing the scheduler's one outbound
// notification.
type subscriptionNotifyAdapter struct {
	dispatcher notify.Dispatcher
}

func (a subscriptionNotifyAdapter) NotifySubscriptionExpiringSoon(ctx context.Context, vendorID uuid.UUID, expiresAt time.Time) error {
	return a.dispatcher.Notify(ctx, notify.Notification{
		UserID:   vendorID,
		Event:    notify.EventSubscriptionExpiringSoon,
		Priority: notify.PriorityMedium,
		Data: map[string]interface{}{
			"expires_at": expiresAt,
		},
	})
}

func verinestdMain() error {
	pf, err := parseProcessFlags()
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if level, lerr := logrus.ParseLevel(pf.LogLevel); lerr == nil {
		logrus.SetLevel(level)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := pgstore.Open(ctx, cfg.DatabaseURL, "file://pgstore/migrations")
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	m := metrics.New()
	m.MustRegister(nil)

	cache := rcache.New(rdb).WithMetrics(m)
	ledger := walletdb.New(store.Pool()).WithMetrics(m)
	escrowEngine := escrow.New(ledger).WithMetrics(m)
	laborEngine := labor.New(ledger, escrowEngine, cfg.PlatformWalletID, cfg.PlatformOwnerID)
	ordersEngine := orders.New(ledger, escrowEngine, cfg.PlatformWalletID, cfg.PlatformOwnerID)
	propertyEngine := property.New(store.Pool())
	chatEngine := chatdb.New(store.Pool(), cache, laborEngine)

	providerRegistry := provider.NewRegistry(cfg).WithMetrics(m)
	dispatcher := notify.LogDispatcher{}
	jwtAuth := authtoken.NewJWTAuthenticator(cfg.JWTSecretKey, time.Duration(cfg.JWTMaxAgeSec)*time.Second)

	scheduler := chron.New(store.Pool(), ordersEngine, subscriptionNotifyAdapter{dispatcher: dispatcher}).WithMetrics(m)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	apiServer := &httpapi.Server{
		Ledger:   ledger,
		Labor:    laborEngine,
		Orders:   ordersEngine,
		Property: propertyEngine,
		Chat:     chatEngine,
		Provider: providerRegistry,
		Auth:     jwtAuth,
		Notifier: dispatcher,
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpAddr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		log.WithField("addr", httpAddr).Info("http api listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http api server stopped unexpectedly")
		}
	}()

	grpcSrv := grpcapi.New()
	grpcListener, err := net.Listen("tcp", ":50051")
	if err != nil {
		return fmt.Errorf("listen on grpc port: %w", err)
	}
	go func() {
		log.Info("grpc health service listening on :50051")
		if err := grpcSrv.Serve(grpcListener); err != nil {
			log.WithError(err).Error("grpc server stopped unexpectedly")
		}
	}()
	grpcSrv.SetServing()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	grpcSrv.SetNotServing()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	grpcSrv.GracefulStop()

	log.Info("shutdown complete")
	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	if err := verinestdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
