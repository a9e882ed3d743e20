package directory

import (
	"os"

	"go.uber.org/fx"
)

var Module = fx.Module("directory",
	fx.Provide(
		fx.Annotate(
			func() (*StaticProvider, error) {
				if path := os.Getenv("BDS_DIRECTORY_SEED"); path != "" {
					return LoadStaticProvider(path)
				}
				return NewStaticProvider(), nil
			},
			fx.As(new(Provider)),
		),
	),
)
