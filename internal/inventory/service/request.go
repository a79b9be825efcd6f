package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/authorization"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	"github.com/smallbiznis/fieldops/pkg/db"
	"gorm.io/gorm"
)

// SubmitRequest files a restock request for the actor's own wallet.
func (s *Service) SubmitRequest(ctx context.Context, actorID snowflake.ID, req inventorydomain.SubmitRequestRequest) (*inventorydomain.Request, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectRequest, authorization.ActionRequestSubmit); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(inventorydomain.ErrInvalidLines, err)
	}
	lines := sortedLines(req.Lines)
	if err := s.ensureItems(ctx, s.db, lines); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	request := &inventorydomain.Request{
		ID:          s.genID.Generate(),
		RequesterID: actorID,
		Status:      inventorydomain.RequestSubmitted,
		Note:        req.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, line := range lines {
		request.Lines = append(request.Lines, inventorydomain.RequestLine{
			ID:        s.genID.Generate(),
			RequestID: request.ID,
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return err
		}
		return tx.Create(&request.Lines).Error
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) ApproveRequest(ctx context.Context, actorID, id snowflake.ID) (*inventorydomain.Request, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectRequest, authorization.ActionRequestApprove); err != nil {
		return nil, err
	}
	request, err := s.moveRequest(ctx, id, inventorydomain.RequestSubmitted, func(tx *gorm.DB, r *inventorydomain.Request, now time.Time) map[string]any {
		r.Status = inventorydomain.RequestApproved
		r.ApprovedBy = &actorID
		r.ApprovedAt = &now
		return map[string]any{"status": r.Status, "approved_by": actorID, "approved_at": now}
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "inventory.request.approve", "inventory_request", request.ID, nil)
	return request, nil
}

func (s *Service) RejectRequest(ctx context.Context, actorID, id snowflake.ID, reason string) (*inventorydomain.Request, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectRequest, authorization.ActionRequestApprove); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	request, err := s.moveRequest(ctx, id, inventorydomain.RequestSubmitted, func(tx *gorm.DB, r *inventorydomain.Request, now time.Time) map[string]any {
		r.Status = inventorydomain.RequestRejected
		r.RejectReason = reason
		return map[string]any{"status": r.Status, "reject_reason": reason}
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "inventory.request.reject", "inventory_request", request.ID, map[string]any{"reason": reason})
	return request, nil
}

// ReceiveRequest confirms delivery of an approved request and restocks the
// requester with one ledger row per line.
func (s *Service) ReceiveRequest(ctx context.Context, actorID, id snowflake.ID) (*inventorydomain.Request, error) {
	start := time.Now()
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectRequest, authorization.ActionRequestReceive); err != nil {
		return nil, err
	}
	onBehalf := s.authz.Authorize(ctx, actorID, authorization.ObjectInventory, authorization.ActionInventoryManage) == nil

	var request *inventorydomain.Request
	err := db.Locked(ctx, s.db, s.settings.Get().LockWait, false, func(tx *gorm.DB) error {
		r, err := s.lockRequest(tx, id)
		if err != nil {
			return err
		}
		if r.RequesterID != actorID && !onBehalf {
			return inventorydomain.ErrNotRequester
		}
		if r.Status != inventorydomain.RequestApproved {
			return inventorydomain.ErrRequestState
		}

		requestID := r.ID
		for _, line := range r.Lines {
			_, err := s.RecordMovement(ctx, tx, inventorydomain.Movement{
				ItemID:    line.ItemID,
				ToUserID:  &r.RequesterID,
				Quantity:  line.Quantity,
				Type:      inventorydomain.TransactionRestock,
				Note:      r.Note,
				RequestID: &requestID,
			})
			if err != nil {
				return err
			}
		}

		now := s.clock.Now()
		r.Status = inventorydomain.RequestReceived
		r.ReceivedAt = &now
		r.UpdatedAt = now
		err = tx.Model(&inventorydomain.Request{}).Where("id = ?", r.ID).Updates(map[string]any{
			"status":      r.Status,
			"received_at": now,
			"updated_at":  now,
		}).Error
		if err != nil {
			return err
		}
		request = r
		return nil
	})
	s.settlementMetrics.Observe(metrics.OperationRequestReceive, start, err)
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "inventory.request.receive", "inventory_request", request.ID, map[string]any{
		"lines": len(request.Lines),
	})
	return request, nil
}

func (s *Service) GetRequest(ctx context.Context, id snowflake.ID) (*inventorydomain.Request, error) {
	var request inventorydomain.Request
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, inventorydomain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("request_id = ?", id).Order("item_id asc").Find(&request.Lines).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *Service) moveRequest(ctx context.Context, id snowflake.ID, from inventorydomain.RequestStatus, apply func(tx *gorm.DB, r *inventorydomain.Request, now time.Time) map[string]any) (*inventorydomain.Request, error) {
	var request *inventorydomain.Request
	err := db.Locked(ctx, s.db, s.settings.Get().LockWait, false, func(tx *gorm.DB) error {
		r, err := s.lockRequest(tx, id)
		if err != nil {
			return err
		}
		if r.Status != from {
			return inventorydomain.ErrRequestState
		}
		now := s.clock.Now()
		updates := apply(tx, r, now)
		updates["updated_at"] = now
		r.UpdatedAt = now
		if err := tx.Model(&inventorydomain.Request{}).Where("id = ?", r.ID).Updates(updates).Error; err != nil {
			return err
		}
		request = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) lockRequest(tx *gorm.DB, id snowflake.ID) (*inventorydomain.Request, error) {
	var request inventorydomain.Request
	err := db.ForUpdate(tx).Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, inventorydomain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("request_id = ?", id).Order("item_id asc").Find(&request.Lines).Error; err != nil {
		return nil, err
	}
	return &request, nil
}
