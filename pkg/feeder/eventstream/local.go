package eventstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/price-oracle/pkg/metrics"
)

// LocalStream produces heights from a ticker. It stands in for a chain when the
// oracle runs against the local ledger harness.
type LocalStream struct {
	next      uint64
	blockTime time.Duration
	logger    zerolog.Logger
	heightCh  chan HeightEvent
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewLocal creates a local stream whose first height is start (1 when zero).
func NewLocal(start uint64, blockTime time.Duration, logger zerolog.Logger) (*LocalStream, error) {
	if blockTime <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBlockTime, blockTime)
	}
	if start == 0 {
		start = 1
	}
	return &LocalStream{
		next:      start,
		blockTime: blockTime,
		logger:    logger.With().Str("component", "eventstream").Str("kind", string(KindLocal)).Logger(),
		heightCh:  make(chan HeightEvent, heightBuffer),
		closeCh:   make(chan struct{}),
	}, nil
}

// Start begins ticking.
func (l *LocalStream) Start(ctx context.Context) error {
	l.logger.Info().Uint64("start_height", l.next).Dur("block_time", l.blockTime).Msg("starting local block ticker")
	go l.loop(ctx)
	return nil
}

func (l *LocalStream) loop(ctx context.Context) {
	ticker := time.NewTicker(l.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closeCh:
			return
		case now := <-ticker.C:
			height := l.next
			l.next++
			metrics.RecordHeight(height)
			select {
			case l.heightCh <- HeightEvent{Height: height, Time: now}:
			case <-ctx.Done():
				return
			case <-l.closeCh:
				return
			}
		}
	}
}

// Heights returns the height channel.
func (l *LocalStream) Heights() <-chan HeightEvent {
	return l.heightCh
}

// Close stops the ticker.
func (l *LocalStream) Close() {
	l.closeOnce.Do(func() { close(l.closeCh) })
}
