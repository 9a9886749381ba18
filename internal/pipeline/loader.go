package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/theirongolddev/chatmeter/internal/model"
)

// MessageSource lists the messages of one session.
type MessageSource interface {
	ListMessages(ctx context.Context, sessionID string) ([]model.MessageEvent, error)
}

// ProgressFunc is called during loading to report progress.
// current is the number of sessions processed so far, total is the total count.
type ProgressFunc func(current, total int)

// SessionMessages pairs a session with its messages.
type SessionMessages struct {
	model.Session
	Messages []model.MessageEvent `json:"messages"`
}

// LoadMessages fetches the messages of every session using a bounded worker
// pool. The result keeps the order of sessions. The first error wins.
func LoadMessages(ctx context.Context, src MessageSource, sessions []model.Session, progressFn ProgressFunc) ([]SessionMessages, error) {
	if len(sessions) == 0 {
		return nil, nil
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers < 1 {
		numWorkers = 4
	}
	if numWorkers > len(sessions) {
		numWorkers = len(sessions)
	}

	work := make(chan int, len(sessions))
	results := make([]SessionMessages, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	var processed atomic.Int64

	// Feed work
	for i := range sessions {
		work <- i
	}
	close(work)

	// Spawn workers
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil {
					errs[idx] = ctx.Err()
					continue
				}
				msgs, err := src.ListMessages(ctx, sessions[idx].SessionID)
				results[idx] = SessionMessages{Session: sessions[idx], Messages: msgs}
				errs[idx] = err
				n := processed.Add(1)
				if progressFn != nil {
					progressFn(int(n), len(sessions))
				}
			}
		}()
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("loading messages for %s: %w", sessions[i].SessionID, err)
		}
	}
	return results, nil
}
