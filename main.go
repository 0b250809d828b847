package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/auth"
	billingapp "residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
	billingmem "residence-cloud/internal/billing/infrastructure/memory"
	billingpg "residence-cloud/internal/billing/infrastructure/postgres"
	billinghttp "residence-cloud/internal/billing/interfaces"
	"residence-cloud/internal/config"
	"residence-cloud/internal/logging"
	masterapp "residence-cloud/internal/masterdata/application"
	masterdata "residence-cloud/internal/masterdata/domain"
	mastermem "residence-cloud/internal/masterdata/infrastructure/memory"
	masterpg "residence-cloud/internal/masterdata/infrastructure/postgres"
	masterhttp "residence-cloud/internal/masterdata/interfaces"
	"residence-cloud/internal/notify"
	"residence-cloud/internal/observability/metrics"
	"residence-cloud/migrations"
)

type stores struct {
	db          *sql.DB
	apartments  masterdata.ApartmentRepository
	configs     billing.FeeConfigRepository
	submissions billing.SubmissionRepository
	bills       billing.BillRepository
	activity    audit.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	apihttp.Logger = logger

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("storage")
	}
	if st.db != nil {
		defer st.db.Close()
	}
	metrics.Init(st.db, logger)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("notifier")
	}

	router, err := buildRouter(cfg, st, notifier, logger)
	if err != nil {
		logger.WithError(err).Fatal("router")
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      logging.Middleware(authMiddleware.Wrap(router), logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "storage": cfg.Storage}).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Fatal("http server")
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *logrus.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return stores{
			apartments:  mastermem.NewApartmentRepository(),
			configs:     billingmem.NewFeeConfigRepository(),
			submissions: billingmem.NewSubmissionRepository(),
			bills:       billingmem.NewBillRepository(),
			activity:    audit.NewMemoryStore(),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, errors.Wrap(err, "open database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return stores{}, errors.Wrap(err, "ping database")
	}
	if err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		db:          db,
		apartments:  masterpg.NewApartmentRepository(db),
		configs:     billingpg.NewFeeConfigRepository(db),
		submissions: billingpg.NewSubmissionRepository(db),
		bills:       billingpg.NewBillRepository(db),
		activity:    audit.NewRepository(db),
	}, nil
}

func buildNotifier(cfg config.Config, logger *logrus.Logger) (*notify.Notifier, error) {
	channels := []notify.Channel{notify.NewLogChannel(logger)}
	if cfg.Notify.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Notify.WebhookURL,
			notify.WithRetryMax(cfg.Notify.RetryMax),
			notify.WithTimeout(cfg.Notify.Timeout),
			notify.WithWebhookLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		channels = append(channels, webhook)
	}
	if cfg.Notify.SendGridAPIKey != "" {
		email, err := notify.NewEmailChannel(cfg.Notify.SendGridAPIKey, cfg.Notify.FromEmail, cfg.Notify.FromName, cfg.Notify.SendGridSandbox)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	return notify.NewNotifier(channels,
		notify.WithCooldown(cfg.Notify.Cooldown),
		notify.WithCurrency(cfg.Billing.Currency),
		notify.WithLogger(logger),
	)
}

func buildRouter(cfg config.Config, st stores, notifier *notify.Notifier, logger *logrus.Logger) (*mux.Router, error) {
	opts := []billingapp.Option{billingapp.WithLogger(logger), billingapp.WithDueDay(cfg.Billing.DueDay)}
	resolver := billing.NewCategoryResolver(cfg.Billing.CategoryAliases)

	apartmentSvc, err := masterapp.NewApartmentService(st.apartments)
	if err != nil {
		return nil, err
	}
	configSvc, err := billingapp.NewConfigService(st.configs, st.apartments, notifier, resolver, opts...)
	if err != nil {
		return nil, err
	}
	intakeSvc, err := billingapp.NewIntakeService(st.submissions, st.apartments, opts...)
	if err != nil {
		return nil, err
	}
	billSvc, err := billingapp.NewBillService(st.bills, st.configs, st.submissions, st.apartments, notifier, opts...)
	if err != nil {
		return nil, err
	}
	ledgerSvc, err := billingapp.NewLedgerService(st.bills, opts...)
	if err != nil {
		return nil, err
	}
	reportSvc, err := billingapp.NewReportService(st.bills, opts...)
	if err != nil {
		return nil, err
	}

	recorder := audit.NewRecorder(st.activity, logger)
	apartmentHandler, err := masterhttp.NewApartmentHandler(apartmentSvc, recorder)
	if err != nil {
		return nil, err
	}
	configHandler, err := billinghttp.NewFeeConfigHandler(configSvc, recorder)
	if err != nil {
		return nil, err
	}
	unitsHandler, err := billinghttp.NewUnitsHandler(intakeSvc, recorder)
	if err != nil {
		return nil, err
	}
	billHandler, err := billinghttp.NewBillHandler(billSvc, recorder, cfg.Billing.Currency)
	if err != nil {
		return nil, err
	}
	ledgerHandler, err := billinghttp.NewLedgerHandler(ledgerSvc, reportSvc)
	if err != nil {
		return nil, err
	}
	activityHandler, err := audit.NewHandler(st.activity)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	apartmentHandler.Register(api)
	configHandler.Register(api)
	unitsHandler.Register(api)
	billHandler.Register(api)
	ledgerHandler.Register(api)
	api.Handle("/activity", activityHandler).Methods(http.MethodGet)

	var pinger apihttp.Pinger
	if st.db != nil {
		pinger = st.db
	}
	router.Handle("/healthz", apihttp.NewHealthHandler(pinger)).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/metrics", promhttp.Handler())
	return router, nil
}
