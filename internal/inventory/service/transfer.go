package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/authorization"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	"github.com/smallbiznis/fieldops/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateTransfer records a pending transfer from the actor to the receiver.
// The stock check here is advisory; acceptance re-checks under lock.
func (s *Service) CreateTransfer(ctx context.Context, actorID snowflake.ID, req inventorydomain.CreateTransferRequest) (*inventorydomain.Transfer, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTransfer, authorization.ActionTransferCreate); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(inventorydomain.ErrInvalidLines, err)
	}
	if req.ReceiverID == actorID {
		return nil, inventorydomain.ErrSelfTransfer
	}
	if err := s.ensureActiveUser(ctx, req.ReceiverID); err != nil {
		return nil, err
	}

	lines := sortedLines(req.Lines)
	if err := s.ensureItems(ctx, s.db, lines); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, actorID, lines); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	transfer := &inventorydomain.Transfer{
		ID:         s.genID.Generate(),
		SenderID:   actorID,
		ReceiverID: req.ReceiverID,
		Status:     inventorydomain.TransferPending,
		Note:       req.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, line := range lines {
		transfer.Lines = append(transfer.Lines, inventorydomain.TransferLine{
			ID:         s.genID.Generate(),
			TransferID: transfer.ID,
			ItemID:     line.ItemID,
			Quantity:   line.Quantity,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transfer).Error; err != nil {
			return err
		}
		return tx.Create(&transfer.Lines).Error
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "inventory.transfer.create", "inventory_transfer", transfer.ID, map[string]any{
		"receiver_id": req.ReceiverID.String(),
		"lines":       len(transfer.Lines),
	})
	return transfer, nil
}

// AcceptTransfer moves the stock. The sender's balance is re-checked under
// the wallet lock; on shortfall nothing is written and the transfer stays
// pending.
func (s *Service) AcceptTransfer(ctx context.Context, actorID, id snowflake.ID) (*inventorydomain.Transfer, error) {
	start := time.Now()
	respondAny, err := s.authorizeRespond(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var transfer *inventorydomain.Transfer
	err = db.Locked(ctx, s.db, s.settings.Get().LockWait, false, func(tx *gorm.DB) error {
		lockStart := time.Now()
		t, err := s.lockPendingTransfer(tx, id, actorID, respondAny)
		if err != nil {
			return err
		}
		s.settlementMetrics.ObserveLockWait(metrics.LockResourceWallets, time.Since(lockStart))

		for _, line := range t.Lines {
			transferID := t.ID
			_, err := s.RecordMovement(ctx, tx, inventorydomain.Movement{
				ItemID:     line.ItemID,
				FromUserID: &t.SenderID,
				ToUserID:   &t.ReceiverID,
				Quantity:   line.Quantity,
				Type:       inventorydomain.TransactionTransferOut,
				Note:       t.Note,
				TransferID: &transferID,
			})
			if err != nil {
				return err
			}
		}

		if err := s.respond(tx, t, inventorydomain.TransferAccepted, actorID); err != nil {
			return err
		}
		transfer = t
		return nil
	})
	s.settlementMetrics.Observe(metrics.OperationTransferAccept, start, err)
	if err != nil {
		if errors.Is(err, inventorydomain.ErrInsufficientStock) {
			s.log.Info("transfer acceptance refused, sender short of stock",
				zap.String("transfer_id", id.String()))
		}
		return nil, err
	}

	s.emitAudit(ctx, actorID, "inventory.transfer.accept", "inventory_transfer", transfer.ID, map[string]any{
		"sender_id":   transfer.SenderID.String(),
		"receiver_id": transfer.ReceiverID.String(),
	})
	return transfer, nil
}

// RejectTransfer closes a pending transfer without moving stock.
func (s *Service) RejectTransfer(ctx context.Context, actorID, id snowflake.ID) (*inventorydomain.Transfer, error) {
	respondAny, err := s.authorizeRespond(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var transfer *inventorydomain.Transfer
	err = db.Locked(ctx, s.db, s.settings.Get().LockWait, false, func(tx *gorm.DB) error {
		t, err := s.lockPendingTransfer(tx, id, actorID, respondAny)
		if err != nil {
			return err
		}
		if err := s.respond(tx, t, inventorydomain.TransferRejected, actorID); err != nil {
			return err
		}
		transfer = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "inventory.transfer.reject", "inventory_transfer", transfer.ID, nil)
	return transfer, nil
}

func (s *Service) GetTransfer(ctx context.Context, id snowflake.ID) (*inventorydomain.Transfer, error) {
	var transfer inventorydomain.Transfer
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&transfer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, inventorydomain.ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("transfer_id = ?", id).Order("item_id asc").Find(&transfer.Lines).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *Service) ListPendingTransfers(ctx context.Context, receiverID snowflake.ID) ([]inventorydomain.Transfer, error) {
	var transfers []inventorydomain.Transfer
	err := s.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ?", receiverID, inventorydomain.TransferPending).
		Order("id asc").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return transfers, nil
	}

	ids := make([]snowflake.ID, 0, len(transfers))
	for _, t := range transfers {
		ids = append(ids, t.ID)
	}
	var lines []inventorydomain.TransferLine
	if err := s.db.WithContext(ctx).Where("transfer_id IN ?", ids).Order("item_id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	byTransfer := make(map[snowflake.ID][]inventorydomain.TransferLine, len(transfers))
	for _, line := range lines {
		byTransfer[line.TransferID] = append(byTransfer[line.TransferID], line)
	}
	for i := range transfers {
		transfers[i].Lines = byTransfer[transfers[i].ID]
	}
	return transfers, nil
}

// authorizeRespond reports whether the actor may answer any transfer or
// only those addressed to them.
func (s *Service) authorizeRespond(ctx context.Context, actorID snowflake.ID) (bool, error) {
	err := s.authz.Authorize(ctx, actorID, authorization.ObjectTransfer, authorization.ActionTransferRespondAny)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, authorization.ErrForbidden) {
		return false, err
	}
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTransfer, authorization.ActionTransferRespond); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) lockPendingTransfer(tx *gorm.DB, id, actorID snowflake.ID, respondAny bool) (*inventorydomain.Transfer, error) {
	var transfer inventorydomain.Transfer
	err := db.ForUpdate(tx).Where("id = ?", id).First(&transfer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, inventorydomain.ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	if !respondAny && transfer.ReceiverID != actorID {
		return nil, inventorydomain.ErrNotTransferParty
	}
	if transfer.Status != inventorydomain.TransferPending {
		return nil, inventorydomain.ErrTransferNotPending
	}
	if err := tx.Where("transfer_id = ?", id).Order("item_id asc").Find(&transfer.Lines).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *Service) respond(tx *gorm.DB, t *inventorydomain.Transfer, status inventorydomain.TransferStatus, actorID snowflake.ID) error {
	now := s.clock.Now()
	t.Status = status
	t.RespondedBy = &actorID
	t.RespondedAt = &now
	t.UpdatedAt = now
	return tx.Model(&inventorydomain.Transfer{}).
		Where("id = ?", t.ID).
		Updates(map[string]any{
			"status":       status,
			"responded_by": actorID,
			"responded_at": now,
			"updated_at":   now,
		}).Error
}

// checkAvailable compares the sender's current balances with the lines
// without locking.
func (s *Service) checkAvailable(ctx context.Context, userID snowflake.ID, lines []inventorydomain.Line) error {
	need := make(map[snowflake.ID]int64, len(lines))
	for _, line := range lines {
		need[line.ItemID] += line.Quantity
	}
	wallets, err := s.WalletBalances(ctx, userID)
	if err != nil {
		return err
	}
	have := make(map[snowflake.ID]int64, len(wallets))
	for _, w := range wallets {
		have[w.ItemID] = w.Quantity
	}
	for itemID, qty := range need {
		if have[itemID] < qty {
			return inventorydomain.ErrInsufficientStock
		}
	}
	return nil
}
