package repl

import "time"

// RunLeaderCron drives the leader-side periodic maintenance of spec.md
// §4.3. tick paces the gauge refresh; the keep-alive fan-out below it runs
// on its own ticker paced by l.cfg.KeepAlivePeriod (nominally 10s), since
// the two are independent periods in spec.md §4.3 and §6. It blocks until
// stop is closed.
func RunLeaderCron(l *LeaderController, tick time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	keepAlive := time.NewTicker(l.cfg.KeepAlivePeriod)
	defer keepAlive.Stop()
	for {
		select {
		case <-ticker.C:
			l.call(func() { l.refreshFollowerGauges() })
		case <-keepAlive.C:
			l.call(func() { l.sendKeepAlives() })
		case <-stop:
			return
		}
	}
}

// RunFollowerCron drives the follower-side periodic maintenance of spec.md
// §4.3: detect a stalled TRANSFER and a silent CONNECTED link and reconnect.
// A link left in CONNECT by a failed handshake is not retried here. It
// blocks until stop is closed;
// callers run it in its own goroutine alongside FollowerController.Run.
func RunFollowerCron(c *FollowerController, tick time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cronTick()
		case <-stop:
			return
		}
	}
}

// cronTick runs one pass of the follower cron's checks (spec.md §4.3):
//   - TRANSFER stuck longer than TransferTimeout: abort and retry CONNECT.
//   - CONNECTED silent longer than LinkTimeout: treat as a dead link and
//     retry CONNECT.
func (c *FollowerController) cronTick() {
	c.call(func() {
		if c.state != LinkTransfer && c.state != LinkConnected {
			return
		}
		if c.conn == nil {
			return
		}

		limit := c.cfg.LinkTimeout
		if c.state == LinkTransfer {
			limit = c.cfg.TransferTimeout
		}

		if time.Since(c.lastIO) <= limit {
			return
		}

		c.logger.Printf("[WARN] repl: link to %s idle past %s in state %s, reconnecting", c.masterAddr, limit, c.state)
		c.linkErr = ErrLinkTimeout
		if c.state == LinkTransfer {
			c.linkErr = ErrTransferTimeout
		}
		c.teardownLocked()
		c.generation++
		c.state = LinkConnect
		go c.connect(c.generation)
	})
}
