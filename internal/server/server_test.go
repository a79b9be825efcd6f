package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/authorization/authorizationtest"
	"github.com/smallbiznis/fieldops/internal/clock"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	invoicedomain "github.com/smallbiznis/fieldops/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/fieldops/internal/invoice/service"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"github.com/smallbiznis/fieldops/internal/testutil"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeInventoryService answers transfer acceptance with a fixed error.
type fakeInventoryService struct {
	inventorydomain.Service
	acceptErr error
	accepted  []snowflake.ID
}

func (f *fakeInventoryService) AcceptTransfer(ctx context.Context, actorID, id snowflake.ID) (*inventorydomain.Transfer, error) {
	f.accepted = append(f.accepted, id)
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return &inventorydomain.Transfer{ID: id, Status: inventorydomain.TransferAccepted}, nil
}

func newTestServer(t *testing.T, p ServerParams) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p.Gin = NewEngine(true, nil)
	p.Log = zap.NewNop()
	return NewServer(p)
}

func do(t *testing.T, s *Server, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, ServerParams{})
	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorHeaderRequired(t *testing.T) {
	s := newTestServer(t, ServerParams{})

	rec := do(t, s, http.MethodPost, "/v1/invoices/generate", "", map[string]int{"year": 2025, "week": 10})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/invoices/generate", "not-a-number", map[string]int{"year": 2025, "week": 10})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	s := newTestServer(t, ServerParams{})
	rec := do(t, s, http.MethodGet, "/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapErrorStatusByKind(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{invoicedomain.ErrInvalidPeriod, http.StatusBadRequest},
		{authorization.ErrForbidden, http.StatusForbidden},
		{taskdomain.ErrNotAssignedTech, http.StatusForbidden},
		{authorization.ErrInvalidActor, http.StatusUnauthorized},
		{invoicedomain.ErrNoBillableTasks, http.StatusConflict},
		{inventorydomain.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{invoicedomain.ErrInvoiceNotFound, http.StatusNotFound},
		{db.ErrLockTimeout, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.NotEmpty(t, payload.Message)
	}

	_, payload := mapError(errors.New("pq: relation does not exist"))
	assert.Equal(t, "internal server error", payload.Message)
}

func TestMapErrorListsInvalidFields(t *testing.T) {
	err := validate.New().Struct(invoicedomain.GenerateRequest{Year: 2025})
	require.Error(t, err)

	status, payload := mapError(apperror.Wrap(invoicedomain.ErrInvalidPeriod, err))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_period", payload.Code)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "week", payload.Errors[0].Field)
	assert.Equal(t, "required", payload.Errors[0].Code)
}

func TestGenerateInvoiceEndpoint(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	admin := testutil.SeedUser(t, conn, node, userdomain.RoleAdmin)
	tech := testutil.SeedUser(t, conn, node, userdomain.RoleTechnician)

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	completed := time.Date(2025, time.March, 4, 10, 0, 0, 0, chicago).UTC()
	for _, price := range []string{"100.00", "250.50", "75.25"} {
		require.NoError(t, conn.Create(&taskdomain.Task{
			ID:              node.Generate(),
			Title:           "install",
			TaskType:        taskdomain.TaskTypeNewInstall,
			Status:          taskdomain.StatusApproved,
			FinancialStatus: taskdomain.FinancialStatusBillable,
			AssignedTechID:  &tech.ID,
			CompanyPrice:    decimal.RequireFromString(price),
			TechPrice:       decimal.RequireFromString("50.00"),
			CompletionDate:  &completed,
		}).Error)
	}

	s := newTestServer(t, ServerParams{
		InvoiceSvc: invoiceservice.NewService(invoiceservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node,
			Clock:    clock.SystemClock{},
			Validate: validate.New(),
			Authz:    authorizationtest.AllowAll(),
			Settings: testutil.Settlement(),
		}),
	})

	body := map[string]int{"year": 2025, "week": 10}
	rec := do(t, s, http.MethodPost, "/v1/invoices/generate", admin.ID.String(), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data    invoicedomain.CompanyInvoice `json:"data"`
		Message string                       `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated invoice INV-000001 with 3 tasks totalling 425.75", resp.Message)
	assert.Equal(t, "425.75", resp.Data.TotalAmount.StringFixed(2))

	rec = do(t, s, http.MethodPost, "/v1/invoices/generate", admin.ID.String(), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "no_billable_tasks", payload.Code)
	assert.Equal(t, "no billable tasks found for week 2025-W10", payload.Message)

	rec = do(t, s, http.MethodPost, "/v1/invoices/generate", admin.ID.String(), map[string]int{"year": 2025})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptTransferInsufficientStock(t *testing.T) {
	inv := &fakeInventoryService{acceptErr: inventorydomain.ErrInsufficientStock}
	s := newTestServer(t, ServerParams{InventorySvc: inv})

	rec := do(t, s, http.MethodPost, "/v1/inventory/transfers/42/accept", "7", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeError(t, rec).Code)
	assert.Equal(t, []snowflake.ID{42}, inv.accepted)

	rec = do(t, s, http.MethodPost, "/v1/inventory/transfers/abc/accept", "7", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, inv.accepted, 1)
}
