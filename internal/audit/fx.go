package audit

import (
	"github.com/smallbiznis/aerocert/internal/audit/repository"
	"github.com/smallbiznis/aerocert/internal/audit/service"
	"go.uber.org/fx"
)

// Module provides the append-only certificate history.
var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
