package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTask      = "task"
	ObjectInventory = "inventory"
	ObjectTransfer  = "transfer"
	ObjectRequest   = "inventory_request"
	ObjectLoan      = "loan"
	ObjectPayroll   = "payroll"
	ObjectInvoice   = "invoice"
	ObjectJobPrice  = "job_price"
	ObjectAuditLog  = "audit_log"
)

const (
	ActionTaskCreate  = "task.create"
	ActionTaskUpdate  = "task.update"
	ActionTaskAssign  = "task.assign"
	ActionTaskExecute = "task.execute"
	ActionTaskApprove = "task.approve"
	ActionTaskReturn  = "task.return"
	ActionTaskCancel  = "task.cancel"
	ActionTaskDelete  = "task.delete"
	ActionTaskRestore = "task.restore"
	ActionTaskView    = "task.view"

	ActionInventoryManage = "inventory.manage"
	ActionInventoryView   = "inventory.view"

	ActionTransferCreate     = "transfer.create"
	ActionTransferRespond    = "transfer.respond"
	ActionTransferRespondAny = "transfer.respond_any"

	ActionRequestSubmit  = "inventory_request.submit"
	ActionRequestApprove = "inventory_request.approve"
	ActionRequestReceive = "inventory_request.receive"

	ActionLoanCreate = "loan.create"
	ActionLoanView   = "loan.view"

	ActionPayrollGenerate    = "payroll.generate"
	ActionPayrollRecalculate = "payroll.recalculate"
	ActionPayrollAdjust      = "payroll.adjust"
	ActionPayrollApprove     = "payroll.approve"
	ActionPayrollView        = "payroll.view"

	ActionInvoiceGenerate = "invoice.generate"
	ActionInvoiceUpdate   = "invoice.update"
	ActionInvoiceView     = "invoice.view"

	ActionJobPriceManage = "job_price.manage"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize allows super admins unconditionally. Every other role is checked
// against the casbin policy set.
func (s *ServiceImpl) Authorize(ctx context.Context, actorID snowflake.ID, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}
	if actorID == 0 {
		return ErrInvalidActor
	}

	role, err := s.roleForUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrInvalidActor) {
			s.auditDenied(ctx, actorID, object, action, "unknown_actor")
		}
		return err
	}

	// god mode
	if role == userdomain.RoleSuperAdmin {
		return nil
	}

	subject := fmt.Sprintf("user:%s", actorID)
	roleName := fmt.Sprintf("role:%s", role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorID, object, action, string(role))
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) roleForUser(ctx context.Context, userID snowflake.ID) (userdomain.Role, error) {
	var row struct {
		Role   string `gorm:"column:role"`
		Active bool   `gorm:"column:active"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role, active
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := userdomain.Role(strings.TrimSpace(row.Role))
	if role == "" || !row.Active {
		return "", ErrInvalidActor
	}
	return role, nil
}

// ensureGrouping keeps exactly one role link per subject so role changes
// take effect on the next check.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			s.log.Warn("failed to remove stale role link",
				zap.String("subject", subject),
				zap.String("role", rule[1]),
				zap.Error(err),
			)
			return fmt.Errorf("remove role link %s for %s: %w", rule[1], subject, err)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID snowflake.ID, object string, action string, role string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admins run settlement.
		{"role:admin", ObjectTask, "*"},
		{"role:admin", ObjectInventory, "*"},
		{"role:admin", ObjectTransfer, "*"},
		{"role:admin", ObjectRequest, "*"},
		{"role:admin", ObjectLoan, "*"},
		{"role:admin", ObjectPayroll, "*"},
		{"role:admin", ObjectInvoice, "*"},
		{"role:admin", ObjectJobPrice, "*"},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		// Dispatchers manage work and stock, not money.
		{"role:dispatcher", ObjectTask, ActionTaskCreate},
		{"role:dispatcher", ObjectTask, ActionTaskUpdate},
		{"role:dispatcher", ObjectTask, ActionTaskAssign},
		{"role:dispatcher", ObjectTask, ActionTaskReturn},
		{"role:dispatcher", ObjectTask, ActionTaskCancel},
		{"role:dispatcher", ObjectTask, ActionTaskView},
		{"role:dispatcher", ObjectInventory, ActionInventoryManage},
		{"role:dispatcher", ObjectInventory, ActionInventoryView},
		{"role:dispatcher", ObjectRequest, ActionRequestApprove},
		{"role:dispatcher", ObjectRequest, ActionRequestReceive},
		{"role:dispatcher", ObjectTransfer, ActionTransferRespondAny},

		// Technicians execute their own work.
		{"role:technician", ObjectTask, ActionTaskExecute},
		{"role:technician", ObjectTask, ActionTaskView},
		{"role:technician", ObjectInventory, ActionInventoryView},
		{"role:technician", ObjectTransfer, ActionTransferCreate},
		{"role:technician", ObjectTransfer, ActionTransferRespond},
		{"role:technician", ObjectRequest, ActionRequestSubmit},
		{"role:technician", ObjectRequest, ActionRequestReceive},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
