package router

import (
	"context"
	"net/http"
	"time"

	"agrifin-backend/internal/application/events"
	healthsvc "agrifin-backend/internal/application/health"
	"agrifin-backend/internal/application/ledger"
	listsvc "agrifin-backend/internal/application/listings"
	loansvc "agrifin-backend/internal/application/loans"
	ordersvc "agrifin-backend/internal/application/orders"
	"agrifin-backend/internal/application/scoring"
	walletsvc "agrifin-backend/internal/application/wallet"
	"agrifin-backend/internal/config"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/infrastructure/database"
	authhandler "agrifin-backend/internal/interfaces/handlers/auth"
	credithandler "agrifin-backend/internal/interfaces/handlers/credit"
	healthhandler "agrifin-backend/internal/interfaces/handlers/health"
	listhandler "agrifin-backend/internal/interfaces/handlers/listings"
	loanhandler "agrifin-backend/internal/interfaces/handlers/loans"
	orderhandler "agrifin-backend/internal/interfaces/handlers/orders"
	payhandler "agrifin-backend/internal/interfaces/handlers/payments"
	wallethandler "agrifin-backend/internal/interfaces/handlers/wallet"
	"agrifin-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const stripeHealthURL = "https://api.stripe.com/healthcheck"

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Services are the engines behind the HTTP surface, shared with the sweeper.
type Services struct {
	Ledger   *ledger.Service
	Scoring  *scoring.Service
	Loans    *loansvc.Service
	Listings *listsvc.Service
	Orders   *ordersvc.Service
	Wallet   *walletsvc.Service
	Events   *events.Service
}

// NewServices opens and migrates the database, makes sure the platform
// accounts exist and wires every engine to it.
func NewServices(ctx context.Context, cfg *config.Config) (*gorm.DB, *Services, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, err
	}
	l := &ledger.Service{DB: db}
	if err := l.Bootstrap(ctx); err != nil {
		return nil, nil, err
	}
	sc := &scoring.Service{DB: db, Policy: cfg.ScoringPolicy}
	return db, &Services{
		Ledger:   l,
		Scoring:  sc,
		Loans:    &loansvc.Service{DB: db, Ledger: l, Scorer: sc, Policy: cfg.LoanPolicy},
		Listings: &listsvc.Service{DB: db},
		Orders:   &ordersvc.Service{DB: db, Ledger: l},
		Wallet:   &walletsvc.Service{DB: db, Ledger: l, Currency: cfg.Currency},
		Events:   &events.Service{DB: db},
	}, nil
}

func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	db, svc, err := NewServices(context.Background(), cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix:  cfg.FrontendURLEndsWith,
		DevPassword:    cfg.DevPassword,
		AllowLocalhost: !cfg.IsProduction(),
	}))

	// Mounted before the session middleware: Stripe authenticates by signature.
	stripeWebhook := &payhandler.WebhookHandler{Wallet: svc.Wallet, WebhookSecret: cfg.StripeWebhookSecret}
	app.Post("/api/v1/stripe/webhook", stripeWebhook.HandleWebhook)

	sessionHandler, rdb, err := middleware.Session(middleware.SessionConfig{RedisURL: cfg.RedisURL})
	if err != nil {
		return nil, nil, nil, err
	}
	app.Use(sessionHandler)
	app.Use(middleware.Tracing())
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.ResponseFormatter())
	app.Use(middleware.RouteLogger())

	pings := map[string]string{}
	if cfg.StripeSecretKey != "" {
		pings["stripe"] = stripeHealthURL
	}
	hh := &healthhandler.Handlers{
		Rdb: rdb,
		Collector: &healthsvc.Collector{
			Rdb:    rdb,
			DB:     &gormDBPinger{db: db},
			Ledger: svc.Ledger,
			Pings:  pings,
			Client: &http.Client{Timeout: 3 * time.Second},
		},
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	api := app.Group("/api/v1")

	ah := &authhandler.Handlers{Rdb: rdb}
	api.Get("/auth/me", ah.Me)
	api.Delete("/auth/logout", ah.Logout)

	authed := api.Group("", middleware.RequireAuth())
	perm := middleware.AuthorizePermission

	// Credit scoring
	ch := &credithandler.Handlers{Service: svc.Scoring}
	authed.Get("/credit-score/user/:id", ch.ScoreUser)
	authed.Post("/credit-score/assessments", perm(domain.PermIngestScores), ch.RecordAssessment)

	// Loans
	lh := &loanhandler.Handlers{Service: svc.Loans, Events: svc.Events}
	lg := authed.Group("/loans")
	lg.Post("/", perm(domain.PermApplyLoan), lh.Apply)
	lg.Get("/", lh.List)
	lg.Get("/:id", lh.Get)
	lg.Get("/:id/events", lh.ListEvents)
	lg.Post("/:id/approve", perm(domain.PermDecideLoan), lh.Approve)
	lg.Post("/:id/reject", perm(domain.PermDecideLoan), lh.Reject)
	lg.Post("/:id/release_milestone", perm(domain.PermDisburseLoan), lh.ReleaseMilestone)
	lg.Post("/:id/repay", perm(domain.PermRepayLoan), lh.Repay)
	lg.Post("/:id/mark_overdue", perm(domain.PermMarkOverdue), lh.MarkOverdue)

	// Listings
	lsh := &listhandler.Handlers{Service: svc.Listings, Events: svc.Events}
	lsg := authed.Group("/listings")
	lsg.Post("/", perm(domain.PermCreateListing), lsh.CreateListing)
	lsg.Get("/", lsh.GetAllActiveListings)
	lsg.Get("/mine", perm(domain.PermCreateListing), lsh.GetMyListings)
	lsg.Get("/:id", lsh.GetListingByID)
	lsg.Get("/:id/events", lsh.ListEvents)
	lsg.Patch("/:id", perm(domain.PermCreateListing), lsh.EditListing)
	lsg.Post("/:id/cancel", perm(domain.PermCreateListing), lsh.CancelListing)

	// Escrow orders
	oh := &orderhandler.Handlers{Service: svc.Orders, Events: svc.Events}
	og := authed.Group("/orders")
	og.Post("/", perm(domain.PermPlaceOrder), oh.Create)
	og.Get("/", oh.List)
	og.Get("/:id", oh.Get)
	og.Get("/:id/events", oh.ListEvents)
	og.Post("/:id/pay", perm(domain.PermPlaceOrder), oh.Pay)
	og.Post("/:id/dispatch", perm(domain.PermFulfilOrder), oh.Dispatch)
	og.Post("/:id/receive", perm(domain.PermPlaceOrder), oh.Receive)
	og.Post("/:id/dispute", oh.Dispute)
	og.Post("/:id/refund", perm(domain.PermResolveDispute), oh.Refund)
	og.Post("/:id/release", perm(domain.PermResolveDispute), oh.Release)
	og.Post("/:id/cancel", oh.Cancel)

	// Wallet and ledger administration
	wh := &wallethandler.Handlers{
		Service:       svc.Wallet,
		Ledger:        svc.Ledger,
		StripeCreator: &wallethandler.RealStripeCreator{SecretKey: cfg.StripeSecretKey},
	}
	authed.Get("/wallet", wh.Summary)
	authed.Get("/wallet/history", wh.History)
	authed.Post("/wallet/top-up", wh.TopUp)
	authed.Post("/wallet/deposit", perm(domain.PermManageLedger), wh.Deposit)
	admin := authed.Group("/admin", perm(domain.PermManageLedger))
	admin.Post("/pools/:code/fund", wh.FundPool)
	admin.Get("/ledger", wh.LedgerTotals)
	admin.Get("/accounts/:id/reconcile", wh.Reconcile)

	return app, db, rdb, nil
}
