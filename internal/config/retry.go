package config

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RetrySchedule is the dunning ladder: OffsetDays[n-1] is the delay before
// the nth retry. A charge that fails with every offset consumed cancels
// auto-renew instead of rescheduling, so the attempt budget for one renewal
// is len(OffsetDays)+1 and the default ladder stops after the third decline.
type RetrySchedule struct {
	OffsetDays []int `mapstructure:"offset_days"`
}

func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{OffsetDays: []int{1, 3}}
}

// Offsets returns the schedule as durations.
func (s RetrySchedule) Offsets() []time.Duration {
	out := make([]time.Duration, 0, len(s.OffsetDays))
	for _, days := range s.OffsetDays {
		out = append(out, time.Duration(days)*24*time.Hour)
	}
	return out
}

// RetryScheduleHolder serves the current retry schedule and hot-reloads it
// from retry.yml when the file changes.
type RetryScheduleHolder struct {
	current atomic.Value // holds RetrySchedule
}

func NewRetryScheduleHolder() (*RetryScheduleHolder, error) {
	v := viper.New()

	v.SetConfigName("retry")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rebill/config")
	v.AddConfigPath("/etc/rebill")
	v.AddConfigPath(".")

	holder := &RetryScheduleHolder{}
	holder.current.Store(DefaultRetrySchedule())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		return holder, nil
	}

	if err := holder.apply(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.ReadInConfig(); err != nil {
			log.Printf("retry schedule reload failed: %v", err)
			return
		}
		if err := holder.apply(v); err != nil {
			log.Printf("retry schedule rejected: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

func (h *RetryScheduleHolder) apply(v *viper.Viper) error {
	var schedule RetrySchedule
	if err := v.Unmarshal(&schedule); err != nil {
		return err
	}
	if len(schedule.OffsetDays) == 0 {
		schedule = DefaultRetrySchedule()
	}
	for _, days := range schedule.OffsetDays {
		if days <= 0 {
			return errors.New("retry offsets must be positive")
		}
	}
	h.current.Store(schedule)
	return nil
}

// Current returns the active schedule.
func (h *RetryScheduleHolder) Current() RetrySchedule {
	return h.current.Load().(RetrySchedule)
}
