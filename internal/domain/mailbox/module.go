package mailbox

import (
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
)

var Module = fx.Module("mailbox",
	fx.Provide(
		func(cfg *config.Config) *Mailbox {
			return New(
				WithValidityWindow(cfg.Events.ValidityWindow),
				WithMaxHistory(cfg.Events.MaxHistory),
			)
		},
		fx.Annotate(
			func(m *Mailbox) Boxer { return m },
			fx.As(new(Boxer)),
		),
	),
)
