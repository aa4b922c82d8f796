package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mebike/rental-backend/station"
)

type stationResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Capacity int       `json:"capacity"`
	Lat      float64   `json:"latitude"`
	Lng      float64   `json:"longitude"`
}

func toStationResponse(s station.Station) stationResponse {
	return stationResponse{
		ID:       s.ID,
		Name:     s.Name,
		Address:  s.Address,
		Capacity: s.Capacity,
		Lat:      s.Location.P.X,
		Lng:      s.Location.P.Y,
	}
}

func (a *API) stationsHandler(c *gin.Context) {
	stations, err := a.sr.GetStations(c.Request.Context())
	if err != nil {
		a.respondError(c, err)
		return
	}

	resp := make([]stationResponse, 0, len(stations))
	for _, s := range stations {
		resp = append(resp, toStationResponse(s))
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) stationHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid station id"})
		return
	}

	s, err := a.sr.GetStation(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStationResponse(s))
}
