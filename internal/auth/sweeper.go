// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired sessions and reset tokens are purged.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired sessions and reset tokens.
// Expired rows are already invisible to lookups; the sweeper keeps the
// tables from growing without bound.
type Sweeper struct {
	sessions SessionRepository
	tokens   ResetTokenRepository
	interval time.Duration
	logger   *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper over the given repositories. A non-positive
// interval falls back to DefaultSweepInterval.
func NewSweeper(sessions SessionRepository, tokens ResetTokenRepository, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions: sessions,
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// Sweep runs a single purge pass. It is safe to call directly, for example
// at startup before the first tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	sessions, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Warn("expired session sweep failed", "error", err)
	}

	tokens, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Warn("expired reset token sweep failed", "error", err)
	}

	if sessions > 0 || tokens > 0 {
		s.logger.Debug("swept expired credentials",
			"sessions", sessions,
			"reset_tokens", tokens,
		)
	}
}

// Close stops the sweep loop and waits for it to exit.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}
