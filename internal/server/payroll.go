package server

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/money"
	payrolldomain "github.com/smallbiznis/fieldops/internal/payroll/domain"
)

type generatePayrollRequest struct {
	Year         int    `json:"year"`
	Week         int    `json:"week"`
	TechnicianID string `json:"technician_id"`
}

func (s *Server) GeneratePayroll(c *gin.Context) {
	var req generatePayrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	techID, err := parseOptionalSnowflakeID(req.TechnicianID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.payrollSvc.Generate(c.Request.Context(), actorFrom(c), payrolldomain.GenerateRequest{
		Year:         req.Year,
		Week:         req.Week,
		TechnicianID: techID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    res.Payrolls,
		"skipped": res.Skipped,
		"message": fmt.Sprintf("generated %d payrolls, skipped %d paid", len(res.Payrolls), len(res.Skipped)),
	})
}

func (s *Server) ListPayrolls(c *gin.Context) {
	year, err := parseIntQuery(c, "year")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	week, err := parseIntQuery(c, "week")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payrolls, err := s.payrollSvc.ListForWeek(c.Request.Context(), year, week)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payrolls})
}

func (s *Server) ExportPayroll(c *gin.Context) {
	year, err := parseIntQuery(c, "year")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	week, err := parseIntQuery(c, "week")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := s.payrollSvc.ExportWeek(c.Request.Context(), actorFrom(c), year, week, &buf); err != nil {
		AbortWithError(c, err)
		return
	}
	filename := fmt.Sprintf("payroll-%04d-W%02d.xlsx", year, week)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (s *Server) GetPayroll(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	payroll, err := s.payrollSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payroll})
}

func (s *Server) RecalculatePayroll(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	payroll, err := s.payrollSvc.Recalculate(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    payroll,
		"message": fmt.Sprintf("recalculated payroll with %d tasks, net pay %s", payroll.TaskCount, money.Format(payroll.NetPay)),
	})
}

func (s *Server) ApprovePayroll(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	payroll, err := s.payrollSvc.Approve(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payroll})
}

type adjustmentsRequest struct {
	Bonus             *decimal.Decimal `json:"bonus_amount"`
	DeductionOverride *decimal.Decimal `json:"deduction_override"`
	ClearOverride     bool             `json:"clear_override"`
}

func (s *Server) UpdatePayrollAdjustments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req adjustmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	payroll, err := s.payrollSvc.UpdateAdjustments(c.Request.Context(), actorFrom(c), id, payrolldomain.AdjustmentsRequest{
		Bonus:             req.Bonus,
		DeductionOverride: req.DeductionOverride,
		ClearOverride:     req.ClearOverride,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payroll})
}
