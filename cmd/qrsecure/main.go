package main

import (
	"log"

	"parcelqr/pkg/config"
	"parcelqr/pkg/db"
	"parcelqr/pkg/gen"
	"parcelqr/pkg/hashistack/secretmanager"
	"parcelqr/pkg/health"
	"parcelqr/pkg/logger"
	"parcelqr/pkg/otelcol"
	"parcelqr/pkg/redis"
	"parcelqr/pkg/server"
	"parcelqr/pkg/task"
	"parcelqr/services/qrtoken"
	"parcelqr/services/subject"
	"parcelqr/services/sweeper"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		health.Module,
		server.ProvideHTTPServer,
		task.Client,
		task.Server,
		subject.Module,
		qrtoken.Module,
		sweeper.Module,
		sweeper.WorkerModule,
		sweeper.SchedulerModule,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})

func migrate(conn *gorm.DB) error {
	return db.Migrate(conn, append(qrtoken.Models(), sweeper.Models()...)...)
}
