package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mebike/rental-backend/bike"
	"github.com/mebike/rental-backend/internal/auth0"
	"github.com/mebike/rental-backend/internal/middleware"
	"github.com/mebike/rental-backend/internal/o11y"
	"github.com/mebike/rental-backend/rental"
	"github.com/mebike/rental-backend/reservation"
	"github.com/mebike/rental-backend/station"
	"github.com/mebike/rental-backend/subscription"
	"github.com/mebike/rental-backend/user"
	"github.com/mebike/rental-backend/wallet"
)

type Config struct {
	Auth0Domain         string
	Audience            string
	MetricsUsername     string
	MetricsPassword     string
	StripeWebhookSecret string
}

type API struct {
	r  *gin.Engine
	rs *rental.Service
	vs *reservation.Service

	br *bike.Repository
	sr *station.Repository
	ur *user.Repository
	wr *wallet.Repository
	pr *subscription.Repository

	auth0 auth0.Client
	cfg   Config
}

func New(
	obs *o11y.Observability,
	rs *rental.Service,
	vs *reservation.Service,
	br *bike.Repository,
	sr *station.Repository,
	ur *user.Repository,
	wr *wallet.Repository,
	pr *subscription.Repository,
	auth0Client auth0.Client,
	cfg Config,
) (*API, error) {
	a := &API{
		r:     gin.New(),
		rs:    rs,
		vs:    vs,
		br:    br,
		sr:    sr,
		ur:    ur,
		wr:    wr,
		pr:    pr,
		auth0: auth0Client,
		cfg:   cfg,
	}

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(obs.Logger))
	a.r.Use(middleware.Metrics(obs.Registry))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metrics := a.r.Group("/metrics")
	if cfg.MetricsUsername != "" {
		metrics.Use(gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}))
	}
	metrics.GET("", gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))

	a.r.GET("/stations", a.stationsHandler)
	a.r.GET("/stations/:id", a.stationHandler)
	a.r.GET("/bikes", a.bikesHandler)
	a.r.GET("/bikes/:id", a.bikeHandler)

	a.r.POST("/stripe/webhook", a.stripeWebhookHandler)

	authed := a.r.Group("")
	if cfg.Auth0Domain != "" {
		jwt, err := middleware.EnsureValidToken(cfg.Auth0Domain, cfg.Audience)
		if err != nil {
			return nil, err
		}
		authed.Use(jwt)
	}

	authed.GET("/me", a.meHandler)

	authed.POST("/rentals", a.startRentalHandler)
	authed.GET("/rentals", a.listRentalsHandler)
	authed.GET("/rentals/:id", a.getRentalHandler)
	authed.POST("/rentals/:id/end", a.endRentalHandler)
	authed.POST("/admin/rentals/:id/end", a.adminEndRentalHandler)

	authed.POST("/reservations", a.createReservationHandler)
	authed.GET("/reservations", a.listReservationsHandler)
	authed.GET("/reservations/:id", a.getReservationHandler)
	authed.POST("/reservations/:id/confirm", a.confirmReservationHandler)
	authed.POST("/reservations/:id/cancel", a.cancelReservationHandler)

	authed.GET("/wallet", a.walletHandler)
	authed.GET("/wallet/transactions", a.walletTransactionsHandler)
	authed.POST("/wallet/topup", a.topUpHandler)

	return a, nil
}

func (a *API) Router() *gin.Engine {
	return a.r
}

// currentUser resolves the authenticated subject to a user row, provisioning
// one on first sight from the Auth0 profile.
func (a *API) currentUser(c *gin.Context) (*user.User, error) {
	auth0ID, ok := middleware.GetAuth0ID(c)
	if !ok {
		return nil, user.ErrNotFound
	}

	u, err := a.ur.GetUserByAuth0ID(c.Request.Context(), auth0ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}

	var email, fullname string
	token := bearerToken(c)
	if a.auth0 != nil && token != "" {
		if info, err := a.auth0.GetUserInfo(c.Request.Context(), token); err == nil {
			email = info.Email
			fullname = info.Name
		}
	}
	return a.ur.CreateUser(c.Request.Context(), auth0ID, email, fullname)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

func (a *API) meHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	u, err := a.currentUser(c)
	if err != nil {
		logger.Error("Failed to resolve user", "error", err)
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       u.ID,
		"email":    u.Email.String,
		"fullname": u.Fullname.String,
		"role":     u.Role,
	})
}

// errStatus maps the typed domain failures to HTTP statuses. Anything not
// named here is a 500.
func errStatus(err error) int {
	var uv *rental.UniqueViolationError
	switch {
	case errors.Is(err, rental.ErrNotFound),
		errors.Is(err, reservation.ErrNotFound),
		errors.Is(err, bike.ErrNotFound),
		errors.Is(err, station.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, rental.ErrNotOwner),
		errors.Is(err, reservation.ErrNotOwner):
		return http.StatusForbidden

	case errors.Is(err, rental.ErrActiveRentalExists),
		errors.Is(err, rental.ErrBikeAlreadyRented),
		errors.Is(err, rental.ErrBikeIsReserved),
		errors.Is(err, rental.ErrAlreadyEnded),
		errors.Is(err, rental.ErrInvalidState),
		errors.Is(err, reservation.ErrNotPending),
		errors.Is(err, reservation.ErrHoldExpired),
		errors.Is(err, reservation.ErrBikeNotAvailable),
		errors.Is(err, reservation.ErrReservedRentalGone):
		return http.StatusConflict

	case errors.Is(err, rental.ErrBikeMissingStation),
		errors.Is(err, rental.ErrBikeNotFoundInStation),
		errors.Is(err, rental.ErrBikeIsBroken),
		errors.Is(err, rental.ErrBikeIsMaintained),
		errors.Is(err, rental.ErrBikeUnavailable),
		errors.Is(err, reservation.ErrOptionNotSupported),
		errors.Is(err, reservation.ErrSubscriptionRequired),
		errors.Is(err, subscription.ErrNotUsable),
		errors.Is(err, subscription.ErrUsageExceeded):
		return http.StatusUnprocessableEntity

	case errors.Is(err, rental.ErrInsufficientBalanceToRent),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, wallet.ErrFrozen):
		return http.StatusPaymentRequired

	case errors.As(err, &uv):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *API) respondError(c *gin.Context, err error) {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		middleware.GetLogger(c).Error("request failed", "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
