// Package notifications tracks the user's notification list and unread
// badge.
//
// The badge is bumped locally the moment a push arrives, but the server's
// unreadCount replaces it whenever a fetch completes. Several pushes in a row
// can therefore show a higher number until the next fetch lands.
package notifications

import (
	"context"
	"log"
	"sync"
	"time"

	"lms-realtime/models"
	"lms-realtime/telemetry"
)

type API interface {
	MyNotifications(ctx context.Context, limit int) (*models.NotificationList, error)
	MarkNotificationRead(ctx context.Context, id models.ID) error
	MarkAllNotificationsRead(ctx context.Context) error
}

type State struct {
	Notifications []models.Notification
	UnreadCount   int
}

type Counter struct {
	api      API
	limit    int
	reporter telemetry.Reporter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	list      []models.Notification
	unread    int
	fetching  bool
	again     bool
	listeners map[int]func(State)
	nextID    int
}

func NewCounter(api API, limit int, reporter telemetry.Reporter) *Counter {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Counter{
		api:       api,
		limit:     limit,
		reporter:  telemetry.OrNop(reporter),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(State)),
	}
}

// Refresh fetches the authoritative list and overwrites the local counter.
func (c *Counter) Refresh(ctx context.Context) error {
	list, err := c.api.MyNotifications(ctx, c.limit)
	if err != nil {
		log.Printf("[NOTIFY] Failed to fetch notifications: %v", err)
		return err
	}

	c.mu.Lock()
	c.list = append([]models.Notification(nil), list.Notifications...)
	c.unread = list.UnreadCount
	c.mu.Unlock()
	c.notify()
	return nil
}

// HandlePush counts a new-notification event and schedules a refetch.
func (c *Counter) HandlePush(n models.Notification) {
	c.mu.Lock()
	c.unread++
	unread := c.unread
	c.mu.Unlock()
	c.notify()

	log.Printf("[NOTIFY] Push %s %q (unread now %d)", n.ID, n.Subject, unread)
	c.scheduleRefresh()
}

// scheduleRefresh runs one background fetch. A request made while a fetch is
// in flight queues exactly one more after it.
func (c *Counter) scheduleRefresh() {
	c.mu.Lock()
	if c.fetching {
		c.again = true
		c.mu.Unlock()
		return
	}
	c.fetching = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		for {
			if err := c.Refresh(c.ctx); err != nil && c.ctx.Err() == nil {
				c.reporter.Error(err, map[string]interface{}{"op": "notifications.refresh"})
			}
			c.mu.Lock()
			if c.again && c.ctx.Err() == nil {
				c.again = false
				c.mu.Unlock()
				continue
			}
			c.fetching = false
			c.again = false
			c.mu.Unlock()
			return
		}
	}()
}

// MarkAsRead tells the server in the background and refetches afterwards.
func (c *Counter) MarkAsRead(id models.ID) {
	c.background("notifications.mark_read", func(ctx context.Context) error {
		return c.api.MarkNotificationRead(ctx, id)
	})
}

// MarkAllAsRead zeroes the counter right away, then tells the server in the
// background and refetches afterwards.
func (c *Counter) MarkAllAsRead() {
	c.mu.Lock()
	c.unread = 0
	for i := range c.list {
		c.list[i].IsRead = true
	}
	c.mu.Unlock()
	c.notify()

	c.background("notifications.mark_all_read", c.api.MarkAllNotificationsRead)
}

func (c *Counter) background(op string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("[NOTIFY] %s failed: %v", op, err)
			c.reporter.Error(err, map[string]interface{}{"op": op})
		}
		if c.ctx.Err() == nil {
			c.scheduleRefresh()
		}
	}()
}

func (c *Counter) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

func (c *Counter) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Counter) snapshotLocked() State {
	return State{
		Notifications: append([]models.Notification(nil), c.list...),
		UnreadCount:   c.unread,
	}
}

// Reset forgets the list and the counter, as after logout.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.list = nil
	c.unread = 0
	c.mu.Unlock()
	c.notify()
}

// Wait blocks until background requests and refetches have finished.
func (c *Counter) Wait() {
	c.wg.Wait()
}

// Close cancels background work and waits for it to stop.
func (c *Counter) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Counter) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Counter) notify() {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	state := c.snapshotLocked()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
