package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	"github.com/VillaPay/VillaPay-Backend/services/caching"
	"github.com/VillaPay/VillaPay-Backend/services/monitoring/logging"
	"github.com/VillaPay/VillaPay-Backend/services/monitoring/tasks"
	"github.com/VillaPay/VillaPay-Backend/services/notification"
	"github.com/VillaPay/VillaPay-Backend/services/pricing"
	"github.com/VillaPay/VillaPay-Backend/services/provider"
	"github.com/VillaPay/VillaPay-Backend/services/provider/cryptocurrency"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	redisservice "github.com/VillaPay/VillaPay-Backend/services/redis"
	"github.com/VillaPay/VillaPay-Backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var TokenController *utils.JWTToken

type Server struct {
	router     *gin.Engine
	store      *db.Store
	config     *utils.Config
	logger     *logging.Logger
	provider   *provider.ProviderService
	reconciler *reconciliation.ReconciliationService
	pricing    *pricing.PricingService
	redis      *redisservice.RedisService
	scheduler  *tasks.TaskScheduler
}

func NewServer(envPath string) *Server {
	c, err := utils.LoadConfig(envPath)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	conn, err := sql.Open(c.DBDriver, utils.GetDBSource(c, c.DBName))
	if err != nil {
		panic(fmt.Sprintf("Could not load DB: %v", err))
	}

	m, err := migrate.New(
		"file://db/migrations",
		utils.GetDBSource(c, c.DBName),
	)
	if err != nil {
		log.Fatalf("Unable to instantiate the database schema migrator - %v", err)
	}

	if err := m.Up(); err != nil {
		if err != migrate.ErrNoChange {
			log.Fatalf("Unable to migrate up to the latest database schema - %v", err)
		}
	}

	store := db.NewStore(conn)
	g := gin.Default()
	l := logging.NewLogger()
	p := provider.NewProviderService()

	warnMissingWalletAddresses(store, l)

	// Chain providers
	blockbook := cryptocurrency.NewBlockbookProvider()
	trongrid := cryptocurrency.NewTronGridProvider()
	etherscan := cryptocurrency.NewEtherscanProvider()
	coingecko := cryptocurrency.NewRatesProvider()
	p.AddProvider(blockbook)
	p.AddProvider(trongrid)
	p.AddProvider(etherscan)
	p.AddProvider(coingecko)

	// Provider names come from the environment; a typo there would leave a
	// chain silently unserved, so verify the expected registrations up front.
	for _, name := range []string{provider.Blockbook, provider.TronGrid, provider.Etherscan, provider.CoinGecko} {
		if _, ok := p.GetProvider(name); !ok {
			l.Warn(fmt.Sprintf("provider %s is not registered under its expected name, check the provider name configuration", name))
		}
	}

	scanCache := caching.NewCache()
	if err := scanCache.Start(); err != nil {
		l.Error(fmt.Sprintf("could not start scan cache: %v", err))
	}

	reconciler := reconciliation.NewReconciliationService(store, l).
		WithAlerter(notification.NewOpsAlertService(c, l)).
		WithTransferCache(scanCache)
	if c.ReconcileMaxAge > 0 {
		reconciler.WithMaxPendingAge(time.Duration(c.ReconcileMaxAge) * time.Hour)
	}
	reconciler.RegisterSource(reconciliation.NetworkBitcoin, blockbook)
	reconciler.RegisterSource(reconciliation.NetworkTron, trongrid)
	reconciler.RegisterSource(reconciliation.NetworkEthereum, etherscan)
	reconciler.RegisterChecker(reconciliation.NetworkBitcoin, blockbook)
	reconciler.RegisterChecker(reconciliation.NetworkTron, trongrid)
	reconciler.RegisterChecker(reconciliation.NetworkEthereum, etherscan)

	var redisSvc *redisservice.RedisService
	if c.RedisHost != "" {
		redisSvc, err = redisservice.NewRedisService(&redisservice.RedisConfig{
			Host:     c.RedisHost,
			Port:     c.RedisPort,
			Password: c.RedisPassword,
		})
		if err != nil {
			l.Warn(fmt.Sprintf("pass stats disabled, redis unreachable: %v", err))
		} else {
			reconciler.WithStatsRecorder(redisSvc)
		}
	}

	pricingSvc := pricing.NewPricingService(coingecko, l)

	g.Use(CORSMiddleware())
	g.Use(l.LoggingMiddleWare())

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			return reconciliation.IsCurrencyValid(fl.Field().String())
		})
	}

	TokenController = utils.NewJWTToken(c)

	server := &Server{
		router:     g,
		store:      store,
		config:     c,
		logger:     l,
		provider:   p,
		reconciler: reconciler,
		pricing:    pricingSvc,
		redis:      redisSvc,
		scheduler:  tasks.NewTaskScheduler(l),
	}

	server.scheduleReconciliation()

	return server
}

// warnMissingWalletAddresses flags supported currencies with no active
// receiving address. Their reservations cannot be reconciled until an
// operator seeds wallet_addresses.
func warnMissingWalletAddresses(store *db.Store, l *logging.Logger) {
	addresses, err := store.ListWalletAddresses(context.Background())
	if err != nil {
		l.Warn(fmt.Sprintf("could not list wallet addresses: %v", err))
		return
	}

	configured := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		configured[a.Currency] = true
	}
	for _, c := range reconciliation.SupportedCurrencies() {
		if !configured[c.String()] {
			l.Warn(fmt.Sprintf("no active wallet address configured for %s, its reservations cannot be reconciled", c))
		}
	}
}

// scheduleReconciliation arms the in-process recurring pass. The HTTP cron
// entry point stays available regardless, for deployments that prefer an
// external scheduler.
func (s *Server) scheduleReconciliation() {
	if s.config.ReconcileInterval <= 0 {
		return
	}

	interval := time.Duration(s.config.ReconcileInterval) * time.Minute
	_, err := s.scheduler.AddTask(
		"reconciliation-pass",
		"Reconcile pending crypto reservations",
		func(ctx context.Context) error {
			_, err := s.reconciler.RunReconciliationPass(ctx)
			return err
		},
		interval,
	)
	if err != nil {
		s.logger.Error(fmt.Sprintf("could not register reconciliation task: %v", err))
		return
	}

	if err := s.scheduler.ScheduleTask("reconciliation-pass", interval); err != nil {
		s.logger.Error(fmt.Sprintf("could not schedule reconciliation task: %v", err))
	}
}

func (s *Server) Start(port int) {
	ReconciliationAPI{}.router(s)
	CryptoAPI{}.router(s)

	if err := s.router.Run(fmt.Sprintf(":%d", port)); err != nil {
		panic(fmt.Sprintf("Could not start server: %v", err))
	}
}
