package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ItemType string

const (
	ItemTypeConsumable ItemType = "consumable"
	ItemTypeEquipment  ItemType = "equipment"
)

// Item is catalog reference data.
type Item struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	SKU       string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"sku"`
	Name      string       `gorm:"type:varchar(255);not null" json:"name"`
	Type      ItemType     `gorm:"type:varchar(32);not null" json:"type"`
	Tracked   bool         `gorm:"not null" json:"tracked"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Item) TableName() string { return "inventory_items" }

// Wallet is the materialized balance of one item held by one user. It must
// always equal the sum of that pair's ledger rows.
type Wallet struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_inventory_wallet_user_item" json:"user_id"`
	ItemID    snowflake.ID `gorm:"not null;uniqueIndex:ux_inventory_wallet_user_item" json:"item_id"`
	Quantity  int64        `gorm:"not null;default:0" json:"quantity"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Wallet) TableName() string { return "inventory_wallets" }

type TransactionType string

const (
	TransactionRestock     TransactionType = "restock"
	TransactionTransferIn  TransactionType = "transfer_in"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionConsumed    TransactionType = "consumed"
	TransactionReturn      TransactionType = "return"
)

// Transaction is an append-only ledger row against the wallet of UserID.
// Rows are never updated or deleted.
type Transaction struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	ItemID       snowflake.ID    `gorm:"not null;index:ix_inventory_tx_user_item" json:"item_id"`
	UserID       snowflake.ID    `gorm:"not null;index:ix_inventory_tx_user_item" json:"user_id"`
	SourceUserID *snowflake.ID   `json:"source_user_id,omitempty"`
	TargetUserID *snowflake.ID   `json:"target_user_id,omitempty"`
	Quantity     int64           `gorm:"not null" json:"quantity"`
	Type         TransactionType `gorm:"type:varchar(32);not null" json:"type"`
	Note         string          `gorm:"type:text" json:"note,omitempty"`
	TaskID       *snowflake.ID   `gorm:"index" json:"task_id,omitempty"`
	TransferID   *snowflake.ID   `gorm:"index" json:"transfer_id,omitempty"`
	RequestID    *snowflake.ID   `gorm:"index" json:"request_id,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (Transaction) TableName() string { return "inventory_transactions" }

type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferRejected TransferStatus = "rejected"
)

type Transfer struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	SenderID    snowflake.ID   `gorm:"not null;index" json:"sender_id"`
	ReceiverID  snowflake.ID   `gorm:"not null;index" json:"receiver_id"`
	Status      TransferStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Note        string         `gorm:"type:text" json:"note,omitempty"`
	RespondedBy *snowflake.ID  `json:"responded_by,omitempty"`
	RespondedAt *time.Time     `json:"responded_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Lines       []TransferLine `gorm:"-" json:"lines"`
}

func (Transfer) TableName() string { return "inventory_transfers" }

type TransferLine struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TransferID snowflake.ID `gorm:"not null;index" json:"transfer_id"`
	ItemID     snowflake.ID `gorm:"not null" json:"item_id"`
	Quantity   int64        `gorm:"not null" json:"quantity"`
}

func (TransferLine) TableName() string { return "inventory_transfer_lines" }

type RequestStatus string

const (
	RequestSubmitted RequestStatus = "submitted"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestReceived  RequestStatus = "received"
)

// Request is a technician's restock request to the warehouse.
type Request struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	RequesterID  snowflake.ID  `gorm:"not null;index" json:"requester_id"`
	Status       RequestStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Note         string        `gorm:"type:text" json:"note,omitempty"`
	RejectReason string        `gorm:"type:text" json:"reject_reason,omitempty"`
	ApprovedBy   *snowflake.ID `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty"`
	ReceivedAt   *time.Time    `json:"received_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Lines        []RequestLine `gorm:"-" json:"lines"`
}

func (Request) TableName() string { return "inventory_requests" }

type RequestLine struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	RequestID snowflake.ID `gorm:"not null;index" json:"request_id"`
	ItemID    snowflake.ID `gorm:"not null" json:"item_id"`
	Quantity  int64        `gorm:"not null" json:"quantity"`
}

func (RequestLine) TableName() string { return "inventory_request_lines" }
