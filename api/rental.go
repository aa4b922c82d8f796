package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mebike/rental-backend/internal/middleware"
	"github.com/mebike/rental-backend/rental"
)

type startRentalRequest struct {
	BikeID    uuid.UUID `json:"bikeId" binding:"required"`
	StationID uuid.UUID `json:"stationId" binding:"required"`
}

func (a *API) startRentalHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req startRentalRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	rt, err := a.rs.Start(c.Request.Context(), rental.StartInput{
		UserID:         u.ID,
		BikeID:         req.BikeID,
		StartStationID: req.StationID,
		StartTime:      time.Now(),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rt)
}

func (a *API) listRentalsHandler(c *gin.Context) {
	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	rentals, err := a.rs.ListByUserID(c.Request.Context(), u.ID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rentals)
}

func (a *API) getRentalHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rental id"})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	rt, err := a.rs.Get(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if rt.UserID != u.ID && u.Role != "ADMIN" {
		a.respondError(c, rental.ErrNotOwner)
		return
	}
	c.JSON(http.StatusOK, rt)
}

type endRentalRequest struct {
	StationID uuid.UUID `json:"stationId" binding:"required"`
}

func (a *API) endRentalHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rental id"})
		return
	}

	var req endRentalRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	rt, err := a.rs.End(c.Request.Context(), rental.EndInput{
		UserID:       u.ID,
		RentalID:     id,
		EndStationID: req.StationID,
		EndTime:      time.Now(),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rt)
}

type adminEndRentalRequest struct {
	StationID uuid.UUID  `json:"stationId" binding:"required"`
	EndTime   *time.Time `json:"endTime"`
	Reason    string     `json:"reason"`
}

func (a *API) adminEndRentalHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rental id"})
		return
	}

	var req adminEndRentalRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if u.Role != "ADMIN" {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}

	rt, err := a.rs.EndByAdmin(c.Request.Context(), rental.EndByAdminInput{
		AdminID:      u.ID,
		RentalID:     id,
		EndStationID: req.StationID,
		EndTime:      req.EndTime,
		Reason:       req.Reason,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rt)
}
