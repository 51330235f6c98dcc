package entitlement

import (
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
	"github.com/smallbiznis/entitled/internal/entitlement/repository"
	"github.com/smallbiznis/entitled/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Reconciler { return s }),
	fx.Provide(func(s *service.Service) domain.AccessService { return s }),
)
