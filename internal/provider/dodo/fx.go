package dodo

import "go.uber.org/fx"

var Module = fx.Module("provider.dodo",
	fx.Provide(
		NewVerifier,
		NewClient,
		NewLinkBuilder,
	),
)
