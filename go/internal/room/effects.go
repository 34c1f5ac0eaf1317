package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// writeTimeout bounds a single remote write once it has been issued.
const writeTimeout = 15 * time.Second

// outcome is the settled result of one write.
type outcome struct {
	write
	err error
}

type outcomes []outcome

func (o outcomes) failed() []error {
	var errs []error
	for _, r := range o {
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return errs
}

func (o outcomes) allFailed() bool {
	return len(o) > 0 && len(o.failed()) == len(o)
}

// dispatch issues every write concurrently and waits for all of them to
// settle. No write is cancelled because another failed.
func (e *Engine) dispatch(ctx context.Context, writes ...write) outcomes {
	results := make(outcomes, len(writes))
	var wg sync.WaitGroup
	for i, w := range writes {
		wg.Add(1)
		go func(i int, w write) {
			defer wg.Done()
			results[i] = outcome{write: w, err: e.perform(ctx, w)}
		}(i, w)
	}
	wg.Wait()
	return results
}

// perform issues a single write, recording metrics and logging failures.
// The write outlives ctx: a caller going away does not abort it.
func (e *Engine) perform(ctx context.Context, w write) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	start := e.clock.Now()
	err := e.repo.write(ctx, w)
	e.metrics.RecordWrite(w.name, err == nil, e.clock.Since(start))
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("remote write failed")
	}
	return err
}
