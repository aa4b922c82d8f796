package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mebike/rental-backend/internal/middleware"
	"github.com/mebike/rental-backend/reservation"
)

type createReservationRequest struct {
	BikeID         uuid.UUID          `json:"bikeId" binding:"required"`
	StationID      uuid.UUID          `json:"stationId" binding:"required"`
	Option         reservation.Option `json:"option"`
	SubscriptionID *uuid.UUID         `json:"subscriptionId"`
}

func (a *API) createReservationHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req createReservationRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Option == "" {
		req.Option = reservation.OptionOneTime
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	res, err := a.vs.Reserve(c.Request.Context(), reservation.ReserveInput{
		UserID:         u.ID,
		BikeID:         req.BikeID,
		StationID:      req.StationID,
		Option:         req.Option,
		SubscriptionID: req.SubscriptionID,
		StartTime:      time.Now(),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (a *API) listReservationsHandler(c *gin.Context) {
	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	reservations, err := a.vs.ListByUserID(c.Request.Context(), u.ID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (a *API) getReservationHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	res, err := a.vs.Get(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if res.UserID != u.ID && u.Role != "ADMIN" {
		a.respondError(c, reservation.ErrNotOwner)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) confirmReservationHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	res, err := a.vs.Confirm(c.Request.Context(), reservation.ConfirmInput{
		UserID:        u.ID,
		ReservationID: id,
		Now:           time.Now(),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) cancelReservationHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	res, err := a.vs.Cancel(c.Request.Context(), reservation.CancelInput{
		UserID:        u.ID,
		ReservationID: id,
		Now:           time.Now(),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
