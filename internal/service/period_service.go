package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// CurrentPeriodCacheKey holds the active period as one JSON document.
const CurrentPeriodCacheKey = "current_period"

type periodRepository interface {
	FindActive(ctx context.Context) (*models.AcademicPeriod, error)
}

type periodCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PeriodConfig sets the lifetime of both cache tiers and the time budget of
// a shared load.
type PeriodConfig struct {
	SharedTTL   time.Duration
	LocalTTL    time.Duration
	LoadTimeout time.Duration
}

// PeriodService resolves the active academic period through an in-process
// cache, then Redis, then the database.
type PeriodService struct {
	repo   periodRepository
	cache  periodCache
	local  *gocache.Cache
	group  singleflight.Group
	cfg    PeriodConfig
	logger *zap.Logger
}

// NewPeriodService constructs a PeriodService. cache may be nil.
func NewPeriodService(repo periodRepository, cache periodCache, cfg PeriodConfig, logger *zap.Logger) *PeriodService {
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = time.Hour
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 30 * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{
		repo:   repo,
		cache:  cache,
		local:  gocache.New(cfg.LocalTTL, 2*cfg.LocalTTL),
		cfg:    cfg,
		logger: logger,
	}
}

// Current returns the active period or ErrNoActivePeriod. Callers get a copy
// they may keep.
//
// Concurrent misses share one load that ignores the starting caller's
// cancellation. Each caller stops waiting only when its own ctx is done.
func (s *PeriodService) Current(ctx context.Context) (*models.AcademicPeriod, error) {
	if cached, ok := s.local.Get(CurrentPeriodCacheKey); ok {
		period := cached.(models.AcademicPeriod)
		return &period, nil
	}

	ch := s.group.DoChan(CurrentPeriodCacheKey, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoadTimeout)
		defer cancel()
		return s.load(loadCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		period := res.Val.(models.AcademicPeriod)
		return &period, nil
	}
}

func (s *PeriodService) load(ctx context.Context) (models.AcademicPeriod, error) {
	var period models.AcademicPeriod
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, CurrentPeriodCacheKey, &period)
		if err == nil && hit && period.ID != "" {
			s.local.Set(CurrentPeriodCacheKey, period, gocache.DefaultExpiration)
			return period, nil
		}
	}

	found, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AcademicPeriod{}, appErrors.ErrNoActivePeriod
		}
		return models.AcademicPeriod{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}
	period = *found

	s.local.Set(CurrentPeriodCacheKey, period, gocache.DefaultExpiration)
	if s.cache != nil {
		if err := s.cache.Set(ctx, CurrentPeriodCacheKey, period, s.cfg.SharedTTL); err != nil {
			s.logger.Warn("failed to cache active period", zap.Error(err))
		}
	}
	return period, nil
}

// Invalidate drops the active period from both cache tiers.
func (s *PeriodService) Invalidate(ctx context.Context) error {
	s.local.Delete(CurrentPeriodCacheKey)
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, CurrentPeriodCacheKey)
}
