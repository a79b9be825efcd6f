package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	auditrepo "github.com/smallbiznis/fieldops/internal/audit/repository"
	auditservice "github.com/smallbiznis/fieldops/internal/audit/service"
	"github.com/smallbiznis/fieldops/internal/testutil"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})

	return NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: auditSvc}), db, node
}

func TestAuthorizeSuperAdminBypassesPolicies(t *testing.T) {
	svc, db, node := newTestService(t)
	root := testutil.SeedUser(t, db, node, userdomain.RoleSuperAdmin)

	assert.NoError(t, svc.Authorize(context.Background(), root.ID, ObjectPayroll, ActionPayrollApprove))
	assert.NoError(t, svc.Authorize(context.Background(), root.ID, "anything", "anything.at_all"))
}

func TestAuthorizeRolePolicies(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	admin := testutil.SeedUser(t, db, node, userdomain.RoleAdmin)
	tech := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)
	dispatcher := testutil.SeedUser(t, db, node, userdomain.RoleDispatcher)

	assert.NoError(t, svc.Authorize(ctx, admin.ID, ObjectInvoice, ActionInvoiceGenerate))
	assert.NoError(t, svc.Authorize(ctx, tech.ID, ObjectTask, ActionTaskExecute))
	assert.NoError(t, svc.Authorize(ctx, dispatcher.ID, ObjectTask, ActionTaskAssign))

	err := svc.Authorize(ctx, tech.ID, ObjectPayroll, ActionPayrollApprove)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	err = svc.Authorize(ctx, dispatcher.ID, ObjectInvoice, ActionInvoiceGenerate)
	assert.True(t, errors.Is(err, ErrForbidden))

	var denials int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Where("action = ?", "authorization.denied").Count(&denials).Error)
	assert.Equal(t, int64(2), denials)
}

func TestAuthorizeUnknownOrInactiveActor(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()

	err := svc.Authorize(ctx, node.Generate(), ObjectTask, ActionTaskView)
	assert.True(t, errors.Is(err, ErrInvalidActor))

	tech := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)
	require.NoError(t, db.Model(&userdomain.User{}).Where("id = ?", tech.ID).Update("active", false).Error)
	err = svc.Authorize(ctx, tech.ID, ObjectTask, ActionTaskView)
	assert.True(t, errors.Is(err, ErrInvalidActor))

	assert.True(t, errors.Is(svc.Authorize(ctx, tech.ID, "", ActionTaskView), ErrInvalidObject))
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)

	require.Error(t, svc.Authorize(ctx, user.ID, ObjectPayroll, ActionPayrollGenerate))

	require.NoError(t, db.Model(&userdomain.User{}).Where("id = ?", user.ID).Update("role", userdomain.RoleAdmin).Error)
	assert.NoError(t, svc.Authorize(ctx, user.ID, ObjectPayroll, ActionPayrollGenerate))
}

func TestAuthorizeDemotionDropsOldGrants(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer})
	ctx := context.Background()
	user := testutil.SeedUser(t, db, node, userdomain.RoleAdmin)
	subject := "user:" + user.ID.String()

	require.NoError(t, svc.Authorize(ctx, user.ID, ObjectPayroll, ActionPayrollApprove))

	require.NoError(t, db.Model(&userdomain.User{}).Where("id = ?", user.ID).Update("role", userdomain.RoleTechnician).Error)
	err = svc.Authorize(ctx, user.ID, ObjectPayroll, ActionPayrollApprove)
	assert.True(t, errors.Is(err, ErrForbidden))

	links, err := enforcer.GetFilteredGroupingPolicy(0, subject)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{subject, "role:technician"}}, links)
}

func TestAuthorizeFailsWhenStaleRoleLinkCannotBeRemoved(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer})
	ctx := context.Background()
	user := testutil.SeedUser(t, db, node, userdomain.RoleAdmin)

	require.NoError(t, svc.Authorize(ctx, user.ID, ObjectPayroll, ActionPayrollApprove))

	require.NoError(t, db.Model(&userdomain.User{}).Where("id = ?", user.ID).Update("role", userdomain.RoleTechnician).Error)
	require.NoError(t, db.Migrator().DropTable("casbin_rule"))

	err = svc.Authorize(ctx, user.ID, ObjectTask, ActionTaskView)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remove role link role:admin")
}
