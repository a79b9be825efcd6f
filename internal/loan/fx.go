package loan

import (
	"github.com/smallbiznis/fieldops/internal/loan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("loan.service",
	fx.Provide(service.NewService),
)
