package scheduler

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rebill/internal/charge"
	"github.com/smallbiznis/rebill/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideLocker),
	fx.Provide(ProvideExecutor),
	fx.Provide(New),
	fx.Invoke(Run),
)

func ProvideExecutor(executor *charge.Executor) Executor {
	return executor
}

func ProvideLocker(cfg config.Config) *Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return NewLocker(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	}))
}

func Run(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)
			ledgerSweep, err := sched.StartLedgerSweep(ctx)
			if err != nil {
				cancel()
				return err
			}

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					ledgerSweep.Stop()
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
