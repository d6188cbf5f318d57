package lock

import (
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/pkg/redisclient"
	"go.uber.org/fx"
)

const redisKeyPrefix = "aerocert:lock:"

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

// NewLocker prefers redis so that every replica sees the same keys.
func NewLocker(client *redisclient.Client, clk clock.Clock) Locker {
	if raw := client.Raw(); raw != nil {
		return NewRedisLocker(raw, redisKeyPrefix)
	}
	return NewLocalLocker(clk)
}
