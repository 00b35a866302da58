package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keyhavenhq/keyhaven-backend/api/controllers"
	"github.com/keyhavenhq/keyhaven-backend/api/middleware"
	"github.com/keyhavenhq/keyhaven-backend/internal/licenses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/config"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
	"github.com/keyhavenhq/keyhaven-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	licenseService licenses.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	validatePolicy := middleware.NewValidateRateLimitPolicy(
		"validate",
		cfg.API.ValidateRateWindow,
		cfg.API.ValidateRateIPLimit,
		cfg.API.ValidateRateKeyLimit,
	)

	r.Route("/health", func(r chi.Router) {
		deps := map[string]controllers.Pinger{"db": dbP}
		if redisClient != nil {
			deps["redis"] = redisClient
		}
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps))
	})

	// The validation endpoint is called by product installations, not
	// management clients. It carries no credentials and is rate limited
	// instead.
	r.Route("/api/public/v1", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		if redisClient != nil {
			r.With(middleware.ValidateRateLimit(validatePolicy, redisClient, logg)).
				Post("/licenses/validate", controllers.PublicValidate(licenseService, logg))
		} else {
			r.Post("/licenses/validate", controllers.PublicValidate(licenseService, logg))
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if redisClient != nil {
			r.Use(middleware.Idempotency(redisClient, logg))
		}

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/licenses", func(r chi.Router) {
			r.Get("/", controllers.LicenseList(licenseService, logg))
			r.Get("/expiring", controllers.LicenseListExpiring(licenseService, logg))
			r.Get("/expired", controllers.LicenseListExpired(licenseService, logg))
			r.Get("/{id}", controllers.LicenseGet(licenseService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireMutatingRole(logg))
				r.Post("/", controllers.LicenseCreate(licenseService, logg))
				r.Post("/{id}/activate", controllers.LicenseActivate(licenseService, logg))
				r.Post("/{id}/suspend", controllers.LicenseSuspend(licenseService, logg))
				r.Post("/{id}/extend", controllers.LicenseExtend(licenseService, logg))
				r.Post("/{id}/seats", controllers.LicenseAddUser(licenseService, logg))
				r.Delete("/{id}/seats", controllers.LicenseRemoveUser(licenseService, logg))
			})

			// Revocation is terminal, so it stays admin-only.
			r.With(middleware.RequireRole(enums.APIRoleAdmin, logg)).
				Post("/{id}/revoke", controllers.LicenseRevoke(licenseService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.APIRoleAdmin, logg))
		r.Get("/ping", controllers.AdminPing())
	})

	return r
}
