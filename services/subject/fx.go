package subject

import (
	"parcelqr/services/qrtoken"

	"go.uber.org/fx"
)

var Module = fx.Module("subject.directory",
	fx.Provide(
		fx.Annotate(
			NewDirectory,
			fx.As(new(qrtoken.SubjectResolver)),
		),
	),
)
