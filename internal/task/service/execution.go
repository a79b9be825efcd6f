package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/authorization"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	obslogger "github.com/smallbiznis/fieldops/internal/observability/logger"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) Assign(ctx context.Context, actorID, id, technicianID snowflake.ID) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskAssign); err != nil {
		return nil, err
	}
	if err := s.ensureTechnician(ctx, technicianID); err != nil {
		return nil, err
	}
	task, err := s.transition(ctx, id, taskdomain.StatusAssigned, func(tx *gorm.DB, task *taskdomain.Task, _ *taskdomain.TaskDetail) error {
		task.AssignedTechID = &technicianID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "task.assign", task, map[string]any{"technician_id": technicianID.String()})
	return task, nil
}

// Start begins or resumes work. Restarting keeps the original start time
// and position.
func (s *Service) Start(ctx context.Context, actorID, id snowflake.ID, req taskdomain.StartRequest) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskExecute); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(taskdomain.ErrInvalidTask, err)
	}
	startedAt := s.eventTime(req.Timestamp)

	return s.execute(ctx, actorID, id, taskdomain.StatusStarted, func(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error {
		if detail.StartedAt == nil {
			lat, lng := req.Lat, req.Lng
			detail.StartLat = &lat
			detail.StartLng = &lng
			detail.StartedAt = &startedAt
		}
		detail.PauseReason = ""
		return nil
	})
}

func (s *Service) Pause(ctx context.Context, actorID, id snowflake.ID, req taskdomain.PauseRequest) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskExecute); err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(taskdomain.ErrInvalidTask, err)
	}
	return s.execute(ctx, actorID, id, taskdomain.StatusPaused, func(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error {
		detail.PauseReason = req.Reason
		return nil
	})
}

// Complete closes the job in one transaction: status, completion time, the
// detail's end-of-job data, the repriced task and the inventory consumption
// commit together or not at all.
func (s *Service) Complete(ctx context.Context, actorID, id snowflake.ID, req taskdomain.CompleteRequest) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskExecute); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(taskdomain.ErrInvalidTask, err)
	}
	completedAt := s.eventTime(req.Timestamp)

	var serials datatypes.JSON
	if len(req.Serials) > 0 {
		raw, err := json.Marshal(req.Serials)
		if err != nil {
			return nil, apperror.Wrap(taskdomain.ErrInvalidTask, err)
		}
		serials = raw
	}
	lines := make([]inventorydomain.Line, 0, len(req.InventoryUsed))
	for _, used := range req.InventoryUsed {
		lines = append(lines, inventorydomain.Line{ItemID: used.ItemID, Quantity: used.Quantity})
	}

	task, err := s.execute(ctx, actorID, id, taskdomain.StatusCompleted, func(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error {
		endLat, endLng := req.EndLat, req.EndLng
		detail.EndLat = &endLat
		detail.EndLng = &endLng
		detail.EndedAt = &completedAt
		detail.InstallationType = strings.TrimSpace(req.InstallationType)
		detail.DropBuryStatus = req.DropBury
		detail.SidewalkBoreStatus = req.SidewalkBore
		detail.Notes = req.Notes
		if serials != nil {
			detail.Serials = serials
		}
		task.CompletionDate = &completedAt
		return s.ledger.Consume(ctx, tx, actorID, task.ID, lines)
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("task completed",
		zap.String("task_id", task.ID.String()),
		zap.String("tech_price", task.TechPrice.StringFixed(2)),
		zap.Int("inventory_lines", len(lines)),
	)
	return task, nil
}

func (s *Service) Approve(ctx context.Context, actorID, id snowflake.ID) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskApprove); err != nil {
		return nil, err
	}
	task, err := s.transition(ctx, id, taskdomain.StatusApproved, nil)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "task.approve", task, map[string]any{
		"tech_price":    task.TechPrice.StringFixed(2),
		"company_price": task.CompanyPrice.StringFixed(2),
	})
	return task, nil
}

func (s *Service) ReturnForFix(ctx context.Context, actorID, id snowflake.ID, reason string) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskReturn); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, taskdomain.ErrReturnReasonNeeded
	}
	task, err := s.transition(ctx, id, taskdomain.StatusReturnedForFix, func(tx *gorm.DB, task *taskdomain.Task, _ *taskdomain.TaskDetail) error {
		task.ReturnReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "task.return", task, map[string]any{"reason": reason})
	return task, nil
}

func (s *Service) Cancel(ctx context.Context, actorID, id snowflake.ID) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskCancel); err != nil {
		return nil, err
	}
	task, err := s.transition(ctx, id, taskdomain.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "task.cancel", task, nil)
	return task, nil
}

// execute runs a technician action: the actor must be the assigned
// technician and the detail row is written alongside the task.
func (s *Service) execute(ctx context.Context, actorID, id snowflake.ID, to taskdomain.Status, mutate func(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error) (*taskdomain.Task, error) {
	return s.move(ctx, id, to, &actorID, true, mutate)
}

// transition runs an office action that does not touch the detail row.
func (s *Service) transition(ctx context.Context, id snowflake.ID, to taskdomain.Status, mutate func(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error) (*taskdomain.Task, error) {
	return s.move(ctx, id, to, nil, false, mutate)
}

func (s *Service) move(ctx context.Context, id snowflake.ID, to taskdomain.Status, technicianID *snowflake.ID, writeDetail bool, mutate func(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error) (*taskdomain.Task, error) {
	var (
		moved *taskdomain.Task
		from  taskdomain.Status
	)
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		task, err := s.lockTask(tx, id)
		if err != nil {
			return err
		}
		if technicianID != nil && !task.AssignedTo(*technicianID) {
			return taskdomain.ErrNotAssignedTech
		}
		from = task.Status
		if err := taskdomain.Transition(from, to); err != nil {
			return apperror.WithMessage(taskdomain.ErrInvalidTransition,
				"task cannot move from "+string(from)+" to "+string(to))
		}

		detail, exists, err := s.loadDetail(tx, task.ID)
		if err != nil {
			return err
		}
		task.Status = to
		if mutate != nil {
			if err := mutate(tx, task, detail); err != nil {
				return err
			}
		}
		if writeDetail {
			if err := s.saveDetail(tx, detail, exists); err != nil {
				return err
			}
		}
		if err := s.persist(tx, task, detail); err != nil {
			return err
		}
		moved = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTaskTransition(ctx, string(from), string(to))
	return moved, nil
}

// eventTime prefers the client's timestamp so offline devices record when
// the work happened; the latest write wins.
func (s *Service) eventTime(ts *time.Time) time.Time {
	if ts != nil && !ts.IsZero() {
		return ts.UTC()
	}
	return s.clock.Now().UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
