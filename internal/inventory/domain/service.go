package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"gorm.io/gorm"
)

// Movement describes one stock movement. FromUserID nil means stock enters
// from outside (restock); ToUserID nil means stock leaves the system
// (consumption or return to the warehouse).
type Movement struct {
	ItemID        snowflake.ID
	FromUserID    *snowflake.ID
	ToUserID      *snowflake.ID
	Quantity      int64
	Type          TransactionType
	Note          string
	TaskID        *snowflake.ID
	TransferID    *snowflake.ID
	RequestID     *snowflake.ID
	AllowNegative bool
}

type Line struct {
	ItemID   snowflake.ID `json:"item_id" validate:"required"`
	Quantity int64        `json:"quantity" validate:"gt=0"`
}

type CreateItemRequest struct {
	SKU     string   `json:"sku" validate:"max=64"`
	Name    string   `json:"name" validate:"required,max=255"`
	Type    ItemType `json:"type"`
	Tracked *bool    `json:"tracked"`
}

type StockRequest struct {
	UserID snowflake.ID `json:"user_id" validate:"required"`
	Lines  []Line       `json:"lines" validate:"required,min=1,dive"`
	Note   string       `json:"note" validate:"max=1000"`
}

type CreateTransferRequest struct {
	ReceiverID snowflake.ID `json:"receiver_id" validate:"required"`
	Lines      []Line       `json:"lines" validate:"required,min=1,dive"`
	Note       string       `json:"note" validate:"max=1000"`
}

type SubmitRequestRequest struct {
	Lines []Line `json:"lines" validate:"required,min=1,dive"`
	Note  string `json:"note" validate:"max=1000"`
}

// Reconciliation compares a wallet with the sum of its ledger rows.
type Reconciliation struct {
	UserID         snowflake.ID `json:"user_id"`
	ItemID         snowflake.ID `json:"item_id"`
	WalletQuantity int64        `json:"wallet_quantity"`
	LedgerQuantity int64        `json:"ledger_quantity"`
	Consistent     bool         `json:"consistent"`
}

// Ledger mutates wallets inside a caller-owned transaction.
type Ledger interface {
	RecordMovement(ctx context.Context, tx *gorm.DB, m Movement) ([]Transaction, error)
	Consume(ctx context.Context, tx *gorm.DB, userID, taskID snowflake.ID, lines []Line) error
}

type Service interface {
	Ledger

	CreateItem(ctx context.Context, actorID snowflake.ID, req CreateItemRequest) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)

	Restock(ctx context.Context, actorID snowflake.ID, req StockRequest) ([]Transaction, error)
	ReturnStock(ctx context.Context, actorID snowflake.ID, req StockRequest) ([]Transaction, error)
	WalletBalances(ctx context.Context, userID snowflake.ID) ([]Wallet, error)
	Transactions(ctx context.Context, userID, itemID snowflake.ID) ([]Transaction, error)
	VerifyLedger(ctx context.Context, userID, itemID snowflake.ID) (Reconciliation, error)

	CreateTransfer(ctx context.Context, actorID snowflake.ID, req CreateTransferRequest) (*Transfer, error)
	AcceptTransfer(ctx context.Context, actorID, id snowflake.ID) (*Transfer, error)
	RejectTransfer(ctx context.Context, actorID, id snowflake.ID) (*Transfer, error)
	GetTransfer(ctx context.Context, id snowflake.ID) (*Transfer, error)
	ListPendingTransfers(ctx context.Context, receiverID snowflake.ID) ([]Transfer, error)

	SubmitRequest(ctx context.Context, actorID snowflake.ID, req SubmitRequestRequest) (*Request, error)
	ApproveRequest(ctx context.Context, actorID, id snowflake.ID) (*Request, error)
	RejectRequest(ctx context.Context, actorID, id snowflake.ID, reason string) (*Request, error)
	ReceiveRequest(ctx context.Context, actorID, id snowflake.ID) (*Request, error)
	GetRequest(ctx context.Context, id snowflake.ID) (*Request, error)
}

var (
	ErrInsufficientStock  = apperror.InsufficientStock("insufficient_stock", "sender does not hold enough stock")
	ErrInvalidMovement    = apperror.Validation("invalid_movement", "movement requires a positive quantity and at least one wallet")
	ErrInvalidLines       = apperror.Validation("invalid_lines", "at least one line with a positive quantity is required")
	ErrInvalidItem        = apperror.Validation("invalid_item", "item name is required")
	ErrUnknownItem        = apperror.Validation("unknown_item", "item does not exist")
	ErrSKUTaken           = apperror.Conflict("sku_taken", "sku already exists")
	ErrSelfTransfer       = apperror.Validation("self_transfer", "sender and receiver must differ")
	ErrTransferNotFound   = apperror.NotFound("transfer_not_found", "transfer not found")
	ErrTransferNotPending = apperror.Conflict("transfer_not_pending", "transfer is no longer pending")
	ErrNotTransferParty   = apperror.Authorization("not_transfer_receiver", "only the receiver may respond to a transfer")
	ErrRequestNotFound    = apperror.NotFound("request_not_found", "inventory request not found")
	ErrRequestState       = apperror.Conflict("request_state", "inventory request status does not allow this action")
	ErrNotRequester       = apperror.Authorization("not_requester", "only the requester may receive this request")
)
