package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
)

func (s *Server) CreateLoan(c *gin.Context) {
	var req loandomain.CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	loan, installments, err := s.loanSvc.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"data":         loan,
		"installments": installments,
		"message":      fmt.Sprintf("created loan with %d installments", len(installments)),
	})
}

func (s *Server) GetLoan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	loan, err := s.loanSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	installments, err := s.loanSvc.ListInstallments(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": loan, "installments": installments})
}

func (s *Server) ListTechnicianLoans(c *gin.Context) {
	techID, ok := pathID(c, "id")
	if !ok {
		return
	}
	loans, err := s.loanSvc.ListByTechnician(c.Request.Context(), techID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": loans})
}
