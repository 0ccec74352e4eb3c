package broadcast

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"xabar/internal/storage"
	kit "xabar/internal/transport"
	logx "xabar/pkg/logx"
)

// sendPass fans the content out to each destination in registration
// order under one credential. A throttle hint is honored once per
// destination: sleep the signaled wait, retry, and count a second
// throttle as that destination's failure. The pass never returns an
// error; callers read the result.
func (s *Service) sendPass(ctx context.Context, lim *rate.Limiter, cred kit.Credential, dests []storage.Destination, content kit.Content) PassResult {
	var res PassResult
	for _, d := range dests {
		if ctx.Err() != nil {
			return res
		}
		if err := lim.Wait(ctx); err != nil {
			return res
		}
		res.Attempted++

		err := s.sender.Send(ctx, cred, kit.ChatRef(d.ChatRef), content)
		if wait, ok := kit.AsThrottle(err); ok {
			res.ThrottleWait += wait
			s.log.Debug("send throttled, waiting",
				logx.Int64("dest", d.ID), logx.Duration("wait", wait))
			if !sleepFor(ctx, wait) {
				res.Failed++
				return res
			}
			err = s.sender.Send(ctx, cred, kit.ChatRef(d.ChatRef), content)
			if _, again := kit.AsThrottle(err); again {
				s.log.Warn("destination throttled twice, skipping",
					logx.Int64("dest", d.ID), logx.String("ref", d.ChatRef))
				res.Failed++
				continue
			}
		}
		if err != nil {
			s.log.Warn("send failed",
				logx.Int64("dest", d.ID), logx.String("ref", d.ChatRef), logx.Err(err))
			res.Failed++
			continue
		}
		res.Delivered++
	}
	return res
}

// sleepFor sleeps the exact duration, returning false if ctx ended first.
func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
