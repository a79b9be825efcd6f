package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/clock"
	obscontext "github.com/smallbiznis/fieldops/internal/observability/context"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: c,
		repo:  p.Repo,
	}
}

// AuditLog appends an entry. A nil or zero actor is recorded as the system.
// The request id and actor role are copied from ctx when present.
func (s *Service) AuditLog(ctx context.Context, actorID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(auditdomain.ActorTypeSystem),
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		TargetID:   trimmed(targetID),
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  s.clock.Now(),
	}
	if entry.TargetType == "" {
		entry.TargetType = "unknown"
	}
	if actorID != nil && *actorID != 0 {
		entry.ActorType = string(auditdomain.ActorTypeUser)
		entry.ActorID = actorID
		if role, id := obscontext.ActorFromContext(ctx); id == actorID.String() {
			entry.ActorRole = role
		}
	}
	for key, value := range metadata {
		if key != "" {
			entry.Metadata[key] = value
		}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		entry.Metadata["request_id"] = requestID
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

// List pages newest first. The page token is the id of the last entry of
// the previous page.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.Since != nil && req.Until != nil && req.Since.After(*req.Until) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidRange
	}

	var beforeID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		if beforeID, err = snowflake.ParseString(strings.TrimSpace(cursor.ID)); err != nil || beforeID <= 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
	}

	limit := min(max(req.PageSize, 0), maxPageSize)
	if limit == 0 {
		limit = defaultPageSize
	}

	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorID:    req.ActorID,
		Since:      req.Since,
		Until:      req.Until,
		BeforeID:   beforeID,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(entry *auditdomain.AuditLog) string {
		return entry.ID.String()
	})
	resp := auditdomain.ListAuditLogResponse{PageInfo: *pageInfo, AuditLogs: make([]auditdomain.AuditLog, 0, len(rows))}
	for _, entry := range rows {
		if entry != nil {
			resp.AuditLogs = append(resp.AuditLogs, *entry)
		}
	}
	return resp, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
