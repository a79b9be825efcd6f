package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/fieldops/internal/apperror"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Validate *validator.Validate
	Authz    authorization.Service
	Settings *config.SettlementConfigHolder

	AuditSvc          auditdomain.Service        `optional:"true"`
	Metrics           *metrics.Metrics           `optional:"true"`
	SettlementMetrics *metrics.SettlementMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	validate *validator.Validate
	authz    authorization.Service
	settings *config.SettlementConfigHolder

	auditSvc          auditdomain.Service
	metrics           *metrics.Metrics
	settlementMetrics *metrics.SettlementMetrics

	items repository.Repository[inventorydomain.Item]
}

func NewService(p Params) inventorydomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("inventory.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		validate: p.Validate,
		authz:    p.Authz,
		settings: p.Settings,

		auditSvc:          p.AuditSvc,
		metrics:           p.Metrics,
		settlementMetrics: p.SettlementMetrics,

		items: repository.ProvideStore[inventorydomain.Item](p.DB),
	}
}

func (s *Service) CreateItem(ctx context.Context, actorID snowflake.ID, req inventorydomain.CreateItemRequest) (*inventorydomain.Item, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectInventory, authorization.ActionInventoryManage); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(inventorydomain.ErrInvalidItem, err)
	}

	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		sku = req.Name
	}
	sku = strings.ToUpper(slug.Make(sku))
	if sku == "" {
		return nil, inventorydomain.ErrInvalidItem
	}

	itemType := req.Type
	if itemType == "" {
		itemType = inventorydomain.ItemTypeConsumable
	}
	if itemType != inventorydomain.ItemTypeConsumable && itemType != inventorydomain.ItemTypeEquipment {
		return nil, inventorydomain.ErrInvalidItem
	}
	tracked := true
	if req.Tracked != nil {
		tracked = *req.Tracked
	}

	item := &inventorydomain.Item{
		ID:        s.genID.Generate(),
		SKU:       sku,
		Name:      req.Name,
		Type:      itemType,
		Tracked:   tracked,
		CreatedAt: s.clock.Now(),
	}
	if err := s.items.Create(ctx, item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, inventorydomain.ErrSKUTaken
		}
		return nil, err
	}

	s.emitAudit(ctx, actorID, "inventory.item.create", "inventory_item", item.ID, map[string]any{
		"sku":  item.SKU,
		"name": item.Name,
	})
	return item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]inventorydomain.Item, error) {
	rows, err := s.items.Find(ctx, nil, repository.OrderBy("sku asc"))
	if err != nil {
		return nil, err
	}
	items := make([]inventorydomain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

// Restock brings warehouse stock into a user's wallet.
func (s *Service) Restock(ctx context.Context, actorID snowflake.ID, req inventorydomain.StockRequest) ([]inventorydomain.Transaction, error) {
	return s.adjustStock(ctx, actorID, req, inventorydomain.TransactionRestock)
}

// ReturnStock moves stock from a user's wallet back to the warehouse. It
// refuses to take the wallet negative.
func (s *Service) ReturnStock(ctx context.Context, actorID snowflake.ID, req inventorydomain.StockRequest) ([]inventorydomain.Transaction, error) {
	return s.adjustStock(ctx, actorID, req, inventorydomain.TransactionReturn)
}

func (s *Service) adjustStock(ctx context.Context, actorID snowflake.ID, req inventorydomain.StockRequest, txType inventorydomain.TransactionType) ([]inventorydomain.Transaction, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectInventory, authorization.ActionInventoryManage); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(inventorydomain.ErrInvalidLines, err)
	}
	if err := s.ensureActiveUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	lines := sortedLines(req.Lines)
	var recorded []inventorydomain.Transaction
	err := db.Locked(ctx, s.db, s.settings.Get().LockWait, false, func(tx *gorm.DB) error {
		if err := s.ensureItems(ctx, tx, lines); err != nil {
			return err
		}
		userID := req.UserID
		for _, line := range lines {
			m := inventorydomain.Movement{
				ItemID:   line.ItemID,
				Quantity: line.Quantity,
				Type:     txType,
				Note:     req.Note,
			}
			if txType == inventorydomain.TransactionRestock {
				m.ToUserID = &userID
			} else {
				m.FromUserID = &userID
			}
			rows, err := s.RecordMovement(ctx, tx, m)
			if err != nil {
				return err
			}
			recorded = append(recorded, rows...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "inventory."+string(txType), "user", req.UserID, map[string]any{
		"lines": len(lines),
	})
	return recorded, nil
}

func (s *Service) WalletBalances(ctx context.Context, userID snowflake.ID) ([]inventorydomain.Wallet, error) {
	var wallets []inventorydomain.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("item_id asc").
		Find(&wallets).Error
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

func (s *Service) Transactions(ctx context.Context, userID, itemID snowflake.ID) ([]inventorydomain.Transaction, error) {
	var rows []inventorydomain.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// VerifyLedger compares the materialized wallet with the sum of its ledger
// rows. A missing wallet counts as zero.
func (s *Service) VerifyLedger(ctx context.Context, userID, itemID snowflake.ID) (inventorydomain.Reconciliation, error) {
	result := inventorydomain.Reconciliation{UserID: userID, ItemID: itemID}

	var wallet inventorydomain.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		First(&wallet).Error
	switch {
	case err == nil:
		result.WalletQuantity = wallet.Quantity
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return result, err
	}

	var ledger int64
	err = s.db.WithContext(ctx).
		Model(&inventorydomain.Transaction{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Scan(&ledger).Error
	if err != nil {
		return result, err
	}
	result.LedgerQuantity = ledger
	result.Consistent = result.WalletQuantity == result.LedgerQuantity

	if !result.Consistent {
		s.log.Error("wallet diverged from ledger",
			zap.String("user_id", userID.String()),
			zap.String("item_id", itemID.String()),
			zap.Int64("wallet", result.WalletQuantity),
			zap.Int64("ledger", result.LedgerQuantity),
		)
	}
	return result, nil
}

func (s *Service) ensureActiveUser(ctx context.Context, userID snowflake.ID) error {
	var user userdomain.User
	err := s.db.WithContext(ctx).Select("id", "active").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.Active) {
		return apperror.WithMessage(inventorydomain.ErrInvalidLines, "wallet owner must be an active user")
	}
	return err
}

// ensureItems rejects lines that name unknown catalog items.
func (s *Service) ensureItems(ctx context.Context, tx *gorm.DB, lines []inventorydomain.Line) error {
	ids := make([]snowflake.ID, 0, len(lines))
	seen := make(map[snowflake.ID]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	var count int64
	if err := tx.WithContext(ctx).Model(&inventorydomain.Item{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return inventorydomain.ErrUnknownItem
	}
	return nil
}

// sortedLines orders lines by item so every caller locks wallets in the
// same sequence.
func sortedLines(lines []inventorydomain.Line) []inventorydomain.Line {
	out := make([]inventorydomain.Line, len(lines))
	copy(out, lines)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	id := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, &actorID, action, targetType, &id, metadata); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("inventory audit failed", zap.String("action", action), zap.Error(err))
	}
}
