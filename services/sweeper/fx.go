package sweeper

import (
	"parcelqr/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper.service",
	fx.Provide(
		NewService,
	),
)

// SchedulerModule periodically enqueues sweeps.
var SchedulerModule = fx.Module("sweeper.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

// WorkerModule handles enqueued sweeps. It needs the asynq server mux.
var WorkerModule = fx.Module("sweeper.worker",
	fx.Invoke(RegisterHandlers),
)

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.QRTokenSweep, svc.HandleSweepTask)
}
