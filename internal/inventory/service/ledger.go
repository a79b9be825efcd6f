package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordMovement applies one movement inside tx. A movement with both a
// source and a target is a transfer and writes an outbound and an inbound
// row; otherwise a single row of m.Type is written. Wallets are locked in
// ascending user id order.
func (s *Service) RecordMovement(ctx context.Context, tx *gorm.DB, m inventorydomain.Movement) ([]inventorydomain.Transaction, error) {
	if m.Quantity <= 0 || (m.FromUserID == nil && m.ToUserID == nil) {
		return nil, inventorydomain.ErrInvalidMovement
	}
	if m.FromUserID != nil && m.ToUserID != nil && *m.FromUserID == *m.ToUserID {
		return nil, inventorydomain.ErrSelfTransfer
	}
	if m.Type == "" && (m.FromUserID == nil || m.ToUserID == nil) {
		return nil, inventorydomain.ErrInvalidMovement
	}
	tx = tx.WithContext(ctx)

	participants := make([]snowflake.ID, 0, 2)
	if m.FromUserID != nil {
		participants = append(participants, *m.FromUserID)
	}
	if m.ToUserID != nil {
		participants = append(participants, *m.ToUserID)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	wallets := make(map[snowflake.ID]*inventorydomain.Wallet, len(participants))
	for _, userID := range participants {
		wallet, err := s.lockWallet(tx, userID, m.ItemID)
		if err != nil {
			return nil, err
		}
		wallets[userID] = wallet
	}

	now := s.clock.Now()
	transfer := m.FromUserID != nil && m.ToUserID != nil
	rows := make([]inventorydomain.Transaction, 0, 2)

	if m.FromUserID != nil {
		wallet := wallets[*m.FromUserID]
		if !m.AllowNegative && wallet.Quantity < m.Quantity {
			return nil, inventorydomain.ErrInsufficientStock
		}
		txType := m.Type
		if transfer {
			txType = inventorydomain.TransactionTransferOut
		}
		if err := s.applyDelta(tx, wallet, -m.Quantity); err != nil {
			return nil, err
		}
		rows = append(rows, s.ledgerRow(m, *m.FromUserID, -m.Quantity, txType, now))
	}

	if m.ToUserID != nil {
		txType := m.Type
		if transfer {
			txType = inventorydomain.TransactionTransferIn
		}
		if err := s.applyDelta(tx, wallets[*m.ToUserID], m.Quantity); err != nil {
			return nil, err
		}
		rows = append(rows, s.ledgerRow(m, *m.ToUserID, m.Quantity, txType, now))
	}

	if err := tx.Create(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		s.metrics.RecordStockMovement(ctx, string(row.Type))
	}
	return rows, nil
}

// Consume decrements the technician's wallets for a completed task. The
// wallet may go negative; consumption is never blocked by missing stock.
func (s *Service) Consume(ctx context.Context, tx *gorm.DB, userID, taskID snowflake.ID, lines []inventorydomain.Line) error {
	if len(lines) == 0 {
		return nil
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return inventorydomain.ErrInvalidLines
		}
	}
	lines = sortedLines(lines)
	if err := s.ensureItems(ctx, tx, lines); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := s.RecordMovement(ctx, tx, inventorydomain.Movement{
			ItemID:        line.ItemID,
			FromUserID:    &userID,
			Quantity:      line.Quantity,
			Type:          inventorydomain.TransactionConsumed,
			TaskID:        &taskID,
			AllowNegative: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// lockWallet returns the (user, item) wallet under a row lock, creating a
// zero balance first when none exists.
func (s *Service) lockWallet(tx *gorm.DB, userID, itemID snowflake.ID) (*inventorydomain.Wallet, error) {
	seed := inventorydomain.Wallet{
		ID:        s.genID.Generate(),
		UserID:    userID,
		ItemID:    itemID,
		UpdatedAt: s.clock.Now(),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(&seed).Error
	if err != nil {
		return nil, err
	}

	var wallet inventorydomain.Wallet
	err = db.ForUpdate(tx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) applyDelta(tx *gorm.DB, wallet *inventorydomain.Wallet, delta int64) error {
	wallet.Quantity += delta
	wallet.UpdatedAt = s.clock.Now()
	return tx.Model(&inventorydomain.Wallet{}).
		Where("id = ?", wallet.ID).
		UpdateColumns(map[string]any{
			"quantity":   wallet.Quantity,
			"updated_at": wallet.UpdatedAt,
		}).Error
}

func (s *Service) ledgerRow(m inventorydomain.Movement, userID snowflake.ID, delta int64, txType inventorydomain.TransactionType, now time.Time) inventorydomain.Transaction {
	return inventorydomain.Transaction{
		ID:           s.genID.Generate(),
		ItemID:       m.ItemID,
		UserID:       userID,
		SourceUserID: m.FromUserID,
		TargetUserID: m.ToUserID,
		Quantity:     delta,
		Type:         txType,
		Note:         m.Note,
		TaskID:       m.TaskID,
		TransferID:   m.TransferID,
		RequestID:    m.RequestID,
		CreatedAt:    now,
	}
}
