package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
)

func (s *Server) ListJobPrices(c *gin.Context) {
	prices, err := s.jobPriceSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": prices})
}

func (s *Server) UpsertJobPrice(c *gin.Context) {
	var req jobpricedomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	price, err := s.jobPriceSvc.Upsert(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": price})
}
