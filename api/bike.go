package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (a *API) bikesHandler(c *gin.Context) {
	bikes, err := a.br.GetBikes(c.Request.Context())
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bikes)
}

func (a *API) bikeHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bike id"})
		return
	}

	b, err := a.br.GetBike(c.Request.Context(), a.br.DB(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
