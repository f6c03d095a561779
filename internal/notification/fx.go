package notification

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

func NewLedger(p Params) Ledger {
	addr := strings.TrimSpace(p.Cfg.RedisAddr)
	if addr == "" {
		p.Log.Named("notification").Info("redis not configured, using in-memory notification ledger")
		return NewMemoryLedger(p.Clock)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
	})
	return NewRedisLedger(client)
}

func NewNotifier(log *zap.Logger) Notifier {
	return NewLogNotifier(log)
}

var Module = fx.Module("notification",
	fx.Provide(NewLedger),
	fx.Provide(NewNotifier),
	fx.Provide(NewGate),
)
