package inventory

import (
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	"github.com/smallbiznis/fieldops/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc inventorydomain.Service) inventorydomain.Ledger { return svc }),
)
