package core

import "github.com/searchktools/fast-uring/core/ring"

// armTimer starts the connection's idle timer; a zero idle timeout disables
// it
func (w *Worker) armTimer(c *Connection) error {
	if w.idle <= 0 {
		return nil
	}
	if err := w.q.Timeout(w.interval, c.tag(ring.KindTimer)); err != nil {
		return err
	}
	c.started(ring.KindTimer)
	return nil
}

// onTimer closes the connection once it has been quiet for the idle timeout
// and re-arms the timer otherwise
func (w *Worker) onTimer(c *Connection) {
	if w.now().Sub(c.lastIO) >= w.idle {
		w.stats.TimedOut++
		w.closeConn(c, ErrIdleTimeout)
		return
	}
	if err := w.armTimer(c); err != nil {
		w.closeConn(c, err)
	}
}
