package controller

import (
	"context"
	"fmt"
	"time"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
)

// session is the part of an add/remove node state machine the controller drives.
type session interface {
	State() inclusion.State
	Start(opts inclusion.Options) (serialapi.Request, error)
	Stop() serialapi.Request
	Finish() (serialapi.Request, bool)
	Reset()
	Expired(timeout time.Duration) bool
}

// StartInclusion puts the stick into add node mode and waits for LearnReady.
func (c *Controller) StartInclusion(ctx context.Context, opts inclusion.Options) error {
	return c.startSession(ctx, c.inclusion, c.exclusion, opts, func(reason string) events.Event {
		return events.InclusionFailed{Reason: reason}
	})
}

// StopInclusion leaves add node mode from any state.
func (c *Controller) StopInclusion(ctx context.Context) error {
	return c.stopSession(ctx, c.inclusion)
}

// StartExclusion puts the stick into remove node mode and waits for LearnReady.
func (c *Controller) StartExclusion(ctx context.Context, opts inclusion.Options) error {
	return c.startSession(ctx, c.exclusion, c.inclusion, opts, func(reason string) events.Event {
		return events.ExclusionFailed{Reason: reason}
	})
}

// StopExclusion leaves remove node mode from any state.
func (c *Controller) StopExclusion(ctx context.Context) error {
	return c.stopSession(ctx, c.exclusion)
}

// InclusionState returns the add node session state.
func (c *Controller) InclusionState() inclusion.State { return c.inclusion.State() }

// ExclusionState returns the remove node session state.
func (c *Controller) ExclusionState() inclusion.State { return c.exclusion.State() }

func (c *Controller) startSession(ctx context.Context, s, other session, opts inclusion.Options, failed func(string) events.Event) error {
	if !c.running() {
		return ErrNotStarted
	}
	if st := other.State(); st != inclusion.Idle {
		return fmt.Errorf("%w: other session is %s", inclusion.ErrSessionActive, st)
	}
	req, err := s.Start(opts)
	if err != nil {
		return err
	}
	tx, err := c.txm.Submit(req)
	if err != nil {
		s.Reset()
		return err
	}
	if _, err := tx.Wait(ctx); err != nil {
		// The stick may be in learn mode without having told us. Leave it.
		c.submitStop(s)
		c.bus.Publish(failed(err.Error()))
		return err
	}
	return nil
}

func (c *Controller) stopSession(ctx context.Context, s session) error {
	if !c.running() {
		return ErrNotStarted
	}
	tx, err := c.txm.Submit(s.Stop())
	if err != nil {
		return err
	}
	_, err = tx.Wait(ctx)
	return err
}

// submitStop resets s and sends the stop frame without waiting. Safe on the
// reader goroutine.
func (c *Controller) submitStop(s session) {
	c.submitAsync("stop session", s.Stop())
}

func (c *Controller) submitAsync(op string, req serialapi.Request) {
	tx, err := c.txm.Submit(req)
	if err != nil {
		c.logger.Warn(op, "err", err)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-tx.Done()
		if _, err := tx.Result(); err != nil {
			c.logger.Warn(op, "err", err)
		}
	}()
}

// finishSessions sends the stop frame at ProtocolDone, keeping the session
// open for the Done callback, and again at Done or Failed to return to Idle.
func (c *Controller) finishSessions() {
	for _, s := range []session{c.inclusion, c.exclusion} {
		if s.State().Terminal() {
			c.submitStop(s)
			continue
		}
		if req, ok := s.Finish(); ok {
			c.submitAsync("finish session", req)
		}
	}
}

func (c *Controller) watchdog() {
	defer c.wg.Done()
	interval := c.cfg.InclusionTimeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.expire(c.inclusion, events.InclusionFailed{Reason: "timeout"})
			c.expire(c.exclusion, events.ExclusionFailed{Reason: "timeout"})
		}
	}
}

func (c *Controller) expire(s session, failed events.Event) {
	if !s.Expired(c.cfg.InclusionTimeout) {
		return
	}
	st := s.State()
	c.logger.Warn("session timed out", "state", st)
	c.submitStop(s)
	if !st.Terminal() {
		c.bus.Publish(failed)
	}
}

func (c *Controller) running() bool {
	return c.live.Load() && !c.linkDown.Load()
}
