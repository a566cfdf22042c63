package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/metrics"
	"github.com/rushteam/mmrec/model"
)

// Reloader 从制品存储加载模型并原子替换在线快照。
//
// 加载失败时保留旧模型；连续失败后熔断，熔断期间的重载请求直接返回 UNAVAILABLE。
type Reloader struct {
	store  core.BlobStore
	handle *model.Handle
	key    string
	cb     *gobreaker.CircuitBreaker[*model.Snapshot]
	logger zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// ReloaderOption 配置 Reloader。
type ReloaderOption func(*Reloader)

// WithKey 指定加载的制品 key，默认 latest.model。
func WithKey(key string) ReloaderOption {
	return func(r *Reloader) { r.key = key }
}

// WithBreakerSettings 覆盖熔断参数。
func WithBreakerSettings(st gobreaker.Settings) ReloaderOption {
	return func(r *Reloader) { r.cb = gobreaker.NewCircuitBreaker[*model.Snapshot](st) }
}

func NewReloader(store core.BlobStore, handle *model.Handle, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		store:  store,
		handle: handle,
		key:    checkpoint.LatestKey,
		logger: logging.Component("reloader"),
	}
	r.cb = gobreaker.NewCircuitBreaker[*model.Snapshot](gobreaker.Settings{
		Name:        "checkpoint-store",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload 加载制品并替换快照，返回新快照。
func (r *Reloader) Reload(ctx context.Context) (*model.Snapshot, error) {
	snap, err := r.cb.Execute(func() (*model.Snapshot, error) {
		c, err := checkpoint.Load(ctx, r.store, r.key)
		if err != nil {
			return nil, err
		}
		return c.Snapshot()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ModelReloads.WithLabelValues("rejected").Inc()
			return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, "server: checkpoint store circuit open", err)
		}
		metrics.ModelReloads.WithLabelValues("failure").Inc()
		r.logger.Error().Err(err).Str("key", r.key).Msg("model reload failed, keeping current model")
		return nil, err
	}

	old := r.handle.Swap(snap)
	metrics.ModelReloads.WithLabelValues("success").Inc()
	metrics.ModelLoadedTimestamp.Set(float64(snap.LoadedAt.Unix()))

	ev := r.logger.Info().Str("version", snap.Version).Str("arch", string(snap.Model.Config().Arch))
	if old != nil {
		ev = ev.Str("previous", old.Version)
	}
	ev.Msg("model reloaded")
	return snap, nil
}

// Schedule 按 cron 表达式定时重载，例如 "@every 10m" 或 "0 */6 * * *"。
func (r *Reloader) Schedule(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return core.ConfigurationError(core.ModuleService, "server: reload already scheduled")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_, _ = r.Reload(ctx)
	}); err != nil {
		return core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, "server: bad reload schedule "+spec, err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop 停止定时重载并等待正在执行的任务结束。
func (r *Reloader) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
