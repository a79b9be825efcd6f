package invoice

import (
	"github.com/smallbiznis/fieldops/internal/invoice/render"
	"github.com/smallbiznis/fieldops/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(render.NewRenderer),
	fx.Provide(service.NewService),
)
