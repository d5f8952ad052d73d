package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/oakline-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/oakline-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/oakline-backend/api/controllers/webhooks"
	"github.com/angelmondragon/oakline-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/oakline-backend/internal/checkout"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/internal/returns"
	"github.com/angelmondragon/oakline-backend/pkg/config"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/redis"
	"github.com/google/uuid"
)

// RedisStore is the slice of the Redis client the HTTP layer needs for
// idempotent replays, IP rate limits and readiness.
type RedisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type productFinder interface {
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Dependencies carries everything the API surface is built from.
type Dependencies struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          RedisStore
	Metrics        http.Handler
	Checkout       checkoutsvc.Service
	Orders         orders.Service
	Returns        returns.Service
	Inventory      inventory.Service
	Products       productFinder
	Ledger         ledger.Service
	StripeWebhook  webhookcontrollers.StripeWebhookService
	StripeVerifier webhookcontrollers.EventVerifier
	WebhookGuard   webhookcontrollers.EventGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	publicPolicy := middleware.NewRateLimitPolicy("public", cfg.App.PublicRateWin, cfg.App.PublicRateLimit)
	adminWrite := func(r chi.Router) chi.Router {
		return r.With(middleware.Idempotency(deps.Redis, middleware.AdminIdempotencyTTL, logg))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeVerifier, deps.WebhookGuard, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.IPRateLimit(publicPolicy, deps.Redis, logg))
			r.Get("/products/{productId}/stock", controllers.ProductStock(deps.Inventory, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Shopper(logg))
				r.With(middleware.Idempotency(deps.Redis, middleware.CheckoutIdempotencyTTL, logg)).
					Post("/checkout", controllers.Checkout(deps.Checkout, logg))
				r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.App.AdminToken, logg))

			r.Route("/orders/{orderId}", func(r chi.Router) {
				adminWrite(r).Post("/allocate", ordercontrollers.Allocate(deps.Orders, logg))
				adminWrite(r).Post("/shipments", ordercontrollers.CreateShipment(deps.Orders, logg))
				adminWrite(r).Post("/deliver", ordercontrollers.MarkDelivered(deps.Orders, logg))
				adminWrite(r).Post("/returns", ordercontrollers.ProcessReturn(deps.Returns, logg))
				adminWrite(r).Post("/refund", ordercontrollers.Refund(deps.Returns, logg))
				adminWrite(r).Post("/refund/retry", ordercontrollers.RetryRefund(deps.Returns, logg))
			})

			adminWrite(r).Post("/products", controllers.AdminCreateProduct(deps.Inventory, logg))
			r.Route("/products/{productId}", func(r chi.Router) {
				adminWrite(r).Post("/restock", controllers.AdminRestock(deps.Inventory, logg))
				r.Get("/ledger", controllers.AdminProductLedger(deps.Products, deps.Ledger, logg))
			})
		})
	})

	return r
}
