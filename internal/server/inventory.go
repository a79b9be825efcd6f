package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
)

func (s *Server) ListItems(c *gin.Context) {
	items, err := s.inventorySvc.ListItems(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateItem(c *gin.Context) {
	var req inventorydomain.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	item, err := s.inventorySvc.CreateItem(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) Restock(c *gin.Context) {
	s.stockMovement(c, s.inventorySvc.Restock)
}

func (s *Server) ReturnStock(c *gin.Context) {
	s.stockMovement(c, s.inventorySvc.ReturnStock)
}

func (s *Server) stockMovement(c *gin.Context, fn func(ctx context.Context, actorID snowflake.ID, req inventorydomain.StockRequest) ([]inventorydomain.Transaction, error)) {
	var req inventorydomain.StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	txs, err := fn(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    txs,
		"message": fmt.Sprintf("recorded %d ledger entries", len(txs)),
	})
}

func (s *Server) GetWallet(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}
	wallets, err := s.inventorySvc.WalletBalances(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wallets})
}

func (s *Server) SubmitRequest(c *gin.Context) {
	var req inventorydomain.SubmitRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	request, err := s.inventorySvc.SubmitRequest(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": request})
}

func (s *Server) GetRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	request, err := s.inventorySvc.GetRequest(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) ApproveRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	request, err := s.inventorySvc.ApproveRequest(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

type rejectRequestBody struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body rejectRequestBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	request, err := s.inventorySvc.RejectRequest(c.Request.Context(), actorFrom(c), id, body.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) ReceiveRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	request, err := s.inventorySvc.ReceiveRequest(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    request,
		"message": fmt.Sprintf("received %d lines", len(request.Lines)),
	})
}

func (s *Server) CreateTransfer(c *gin.Context) {
	var req inventorydomain.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	transfer, err := s.inventorySvc.CreateTransfer(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": transfer})
}

func (s *Server) GetTransfer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	transfer, err := s.inventorySvc.GetTransfer(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transfer})
}

func (s *Server) AcceptTransfer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	transfer, err := s.inventorySvc.AcceptTransfer(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transfer})
}

func (s *Server) RejectTransfer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	transfer, err := s.inventorySvc.RejectTransfer(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transfer})
}

func (s *Server) ListWalletTransactions(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item")
	if !ok {
		return
	}
	txs, err := s.inventorySvc.Transactions(c.Request.Context(), userID, itemID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

func (s *Server) VerifyWallet(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item")
	if !ok {
		return
	}
	rec, err := s.inventorySvc.VerifyLedger(c.Request.Context(), userID, itemID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// ListPendingTransfers returns the transfers waiting on the caller.
func (s *Server) ListPendingTransfers(c *gin.Context) {
	transfers, err := s.inventorySvc.ListPendingTransfers(c.Request.Context(), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transfers})
}
