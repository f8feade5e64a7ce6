package fetch

import (
	"time"

	"github.com/gustycube/hostfetch/internal/metrics"
	"github.com/gustycube/hostfetch/internal/rate"
)

func (c *Client) run() {
	defer c.wg.Done()
	tick := time.NewTicker(c.tick)
	defer tick.Stop()
	sweep := time.NewTicker(c.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.kicks:
			c.pass(b)
		case <-tick.C:
			c.registry.Each(c.pass)
			c.observe()
		case <-sweep.C:
			if n := c.registry.Sweep(c.now()); n > 0 && netDebug.Load() {
				c.log.Debugw("swept idle buckets", "count", n, "remaining", c.registry.Len())
			}
		}
	}
}

// pass dispatches from b until it runs out of tokens or work, or is cooling
// down.
func (c *Client) pass(b *rate.Bucket) {
	for {
		it, ok := b.Next(c.now())
		if !ok {
			return
		}
		c.dispatch(b, it)
	}
}

// dispatch starts it on its own goroutine. Items leave the bucket in queue
// order, but two started in one pass may reach the wire in either order.
func (c *Client) dispatch(b *rate.Bucket, it *rate.Item) {
	metrics.Dispatches.Inc()
	if netDebug.Load() {
		hi, lo := b.Queued()
		c.log.Debugw("dispatch", "host", b.Host, "key", it.Key, "queued_hi", hi, "queued_lo", lo)
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Errorw("queued item panicked", "host", b.Host, "key", it.Key, "panic", r)
			}
		}()
		it.Run()
	}()
}

// kick asks the pump to look at b soon. It never blocks; a dropped kick is
// picked up by the next tick.
func (c *Client) kick(b *rate.Bucket) {
	select {
	case c.kicks <- b:
	default:
	}
}

func (c *Client) observe() {
	var hi, lo int
	c.registry.Each(func(b *rate.Bucket) {
		h, l := b.Queued()
		hi += h
		lo += l
	})
	metrics.QueueDepth.WithLabelValues(rate.PriorityHigh.String()).Set(float64(hi))
	metrics.QueueDepth.WithLabelValues(rate.PriorityLow.String()).Set(float64(lo))
	metrics.Buckets.Set(float64(c.registry.Len()))
}
