package jobprice

import (
	"github.com/smallbiznis/fieldops/internal/jobprice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("jobprice.service",
	fx.Provide(service.NewService),
)
