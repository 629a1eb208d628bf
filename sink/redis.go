package sink

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakecoffman/endoscope"
)

// DefaultShadowTTL keeps a device's shadow around for a day after it was last seen.
const DefaultShadowTTL = 24 * time.Hour

// Shadow mirrors a camera's info, battery and stream counters into a Redis hash.
type Shadow struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewShadow(rdb *redis.Client, device string, ttl time.Duration) *Shadow {
	if ttl <= 0 {
		ttl = DefaultShadowTTL
	}
	return &Shadow{rdb: rdb, key: ShadowKey(device), ttl: ttl}
}

// ShadowKey is endoscope:shadow:<device>.
func ShadowKey(device string) string {
	return "endoscope:shadow:" + token(device)
}

func (s *Shadow) Key() string {
	return s.key
}

func (s *Shadow) UpdateInfo(ctx context.Context, info endoscope.DeviceInfo) error {
	return s.set(ctx, infoFields(info))
}

// UpdateBattery records the battery level, or clears it when the level is unavailable.
func (s *Shadow) UpdateBattery(ctx context.Context, percent float64, ok bool) error {
	if !ok {
		return s.set(ctx, map[string]interface{}{"battery": ""})
	}
	return s.set(ctx, map[string]interface{}{"battery": percent})
}

func (s *Shadow) UpdateCounters(ctx context.Context, counters [endoscope.CounterMax]uint64) error {
	return s.set(ctx, counterFields(counters))
}

func (s *Shadow) set(ctx context.Context, fields map[string]interface{}) error {
	fields["ts"] = time.Now().Unix()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, fields)
		pipe.Expire(ctx, s.key, s.ttl)
		return nil
	})
	return err
}

func infoFields(info endoscope.DeviceInfo) map[string]interface{} {
	return map[string]interface{}{
		"protocol": info.Protocol,
		"width":    info.Width,
		"height":   info.Height,
		"fps":      info.FPS,
		"angle":    info.Angle,
		"hardware": info.Hardware,
		"company":  info.Company,
		"id":       info.ID,
		"firmware": info.Firmware,
		"ssid":     info.SSID,
		"model":    info.Model,
	}
}

func counterFields(counters [endoscope.CounterMax]uint64) map[string]interface{} {
	fields := make(map[string]interface{}, len(counters))
	for i, name := range endoscope.CounterNames {
		fields[token(name)] = counters[i]
	}
	return fields
}
