package otpinfra

import (
	"context"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

// SweepService removes codes that are past expiry and no longer serve as fresh
// verification evidence.
type SweepService struct {
	store     otp.Store
	interval  time.Duration
	retention time.Duration
	now       otp.Clock
}

// NewSweepService creates a sweeper. retention is the verification freshness window.
func NewSweepService(store otp.Store, interval, retention time.Duration) *SweepService {
	return &SweepService{
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Start runs the sweep until ctx is cancelled.
func (s *SweepService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logx.Info("OTP sweep service stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of removed codes.
func (s *SweepService) RunOnce(ctx context.Context) int64 {
	before := s.now().Add(-s.retention)
	n, err := s.store.DeleteExpired(ctx, before)
	if err != nil {
		logx.WithField("before", before).Errorf("Error sweeping expired codes: %v", err)
		return 0
	}
	if n > 0 {
		logx.WithField("removed", n).Debug("Swept expired codes")
	}
	return n
}
