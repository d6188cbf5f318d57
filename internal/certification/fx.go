package certification

import (
	"github.com/smallbiznis/aerocert/internal/certification/repository"
	"github.com/smallbiznis/aerocert/internal/certification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("certification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
