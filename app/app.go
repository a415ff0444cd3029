// Package app wires the client together. The session drives the lifecycle:
// logging in opens the push connection and loads chat and notifications,
// logging out closes it and drops every piece of in-memory state.
package app

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"lms-realtime/api"
	"lms-realtime/boundary"
	"lms-realtime/chat"
	"lms-realtime/config"
	"lms-realtime/models"
	"lms-realtime/notifications"
	"lms-realtime/realtime"
	"lms-realtime/session"
	"lms-realtime/store"
	"lms-realtime/telemetry"
)

const activityTimeout = 5 * time.Second

type App struct {
	Config        *config.Config
	KV            store.KV
	Session       *session.Store
	API           *api.Client
	Realtime      *realtime.Manager
	Chat          *chat.Store
	Notifications *notifications.Counter
	Reporter      telemetry.Reporter
	Guard         *boundary.Guard

	closer      io.Closer
	unsubscribe func()
	activity    sync.WaitGroup
}

// New builds storage and telemetry from conf and wires the rest on top.
func New(conf *config.Config) (*App, error) {
	kv, closer, err := openStorage(conf)
	if err != nil {
		return nil, err
	}

	var reporter telemetry.Reporter = telemetry.Nop{}
	if conf.RollbarToken != "" {
		host, _ := os.Hostname()
		reporter = telemetry.NewRollbar(log.Default(), telemetry.RollbarConfig{
			Token:       conf.RollbarToken,
			Environment: conf.Env,
			Host:        host,
		})
	}

	a := NewWith(conf, kv, reporter)
	a.closer = closer
	return a, nil
}

func openStorage(conf *config.Config) (store.KV, io.Closer, error) {
	var (
		kv     store.KV
		closer io.Closer
	)
	if conf.DBPath != "" {
		db, err := store.New(conf.DBPath)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open storage %s", conf.DBPath)
		}
		kv, closer = db, db
	} else {
		log.Printf("[APP] No db_path set, settings are kept in memory")
		kv = store.NewMemory()
	}

	if conf.StorageKey != "" {
		sealed, err := store.NewSealed(kv, conf.StorageKey)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, nil, errors.Wrap(err, "seal storage")
		}
		kv = sealed
	}
	return kv, closer, nil
}

// NewWith wires the client on top of the given storage and reporter.
func NewWith(conf *config.Config, kv store.KV, reporter telemetry.Reporter) *App {
	reporter = telemetry.OrNop(reporter)
	sess := session.New(kv)
	client := api.NewClient(conf.APIURL, sess, conf.RequestTimeout)
	manager := realtime.NewManager(realtime.Options{
		URL: conf.SocketURL,
		Backoff: realtime.Backoff{
			Base: conf.ReconnectBase,
			Max:  conf.ReconnectMax,
		},
		Unauthorized: sess.Invalidate,
	})

	a := &App{
		Config:        conf,
		KV:            kv,
		Session:       sess,
		API:           client,
		Realtime:      manager,
		Chat:          chat.NewStore(client, manager, sess, kv),
		Notifications: notifications.NewCounter(client, conf.NotificationLimit, reporter),
		Reporter:      reporter,
	}
	a.Guard = boundary.New(reporter, a.resetState)

	manager.OnMessage(a.Chat.HandlePush)
	manager.OnPresenceUpdate(a.Chat.HandlePresence)
	manager.OnNotification(a.Notifications.HandlePush)
	manager.OnStatus(func(up bool) {
		if up {
			log.Printf("[APP] Push connection up")
		} else {
			log.Printf("[APP] Push connection lost, reconnecting")
		}
	})

	a.unsubscribe = sess.Subscribe(a.sessionChanged)
	return a
}

func (a *App) sessionChanged(sess *models.Session) {
	if sess == nil {
		a.Realtime.Close()
		a.resetState()
		a.Reporter.SetUser(nil)
		return
	}

	a.Reporter.SetUser(&sess.User)
	if err := a.Realtime.Open(sess); err != nil {
		log.Printf("[APP] Failed to open push connection: %v", err)
		return
	}
	// views without a room still need the user in the online registry
	if err := a.Realtime.AnnouncePresence(realtime.PersonalChannel(sess.User.ID)); err != nil {
		log.Printf("[APP] Failed to announce presence: %v", err)
	}
}

func (a *App) resetState() {
	a.Chat.Reset()
	a.Notifications.Reset()
}

// Start resumes a restored session, if any. It reports whether one was
// found.
func (a *App) Start(ctx context.Context) (bool, error) {
	sess := a.Session.Current()
	if sess == nil {
		return false, nil
	}
	a.sessionChanged(sess)
	return true, a.Bootstrap(ctx)
}

// Login starts a session from token and loads the user's data.
func (a *App) Login(ctx context.Context, token string) error {
	if _, err := a.Session.Login(token, nil); err != nil {
		return err
	}
	return a.Bootstrap(ctx)
}

func (a *App) Logout() {
	a.Session.Logout()
}

// Bootstrap loads channels and notifications in parallel. Both degrade on
// failure and one failing does not cancel the other; the first error is
// returned for display only.
func (a *App) Bootstrap(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := a.Chat.LoadChannels(ctx, a.Config.InitialRoom)
		return errors.Wrap(err, "load channels")
	})
	g.Go(func() error {
		return errors.Wrap(a.Notifications.Refresh(ctx), "load notifications")
	})
	return g.Wait()
}

// SwitchRoom activates a channel and records the switch as activity.
func (a *App) SwitchRoom(ctx context.Context, id string) (string, error) {
	from := a.Chat.Active()
	active, err := a.Chat.SwitchActiveChannel(ctx, id)
	if active != "" && active != from {
		a.logActivity("chat_room_switch", map[string]interface{}{"from": from, "to": active})
	}
	return active, err
}

func (a *App) logActivity(action string, metadata map[string]interface{}) {
	a.activity.Add(1)
	go func() {
		defer a.activity.Done()
		ctx, cancel := context.WithTimeout(context.Background(), activityTimeout)
		defer cancel()
		a.API.LogActivity(ctx, action, metadata)
		a.Reporter.Event(action, metadata)
	}()
}

// Wait blocks until fire-and-forget work has drained.
func (a *App) Wait() {
	a.activity.Wait()
	a.Notifications.Wait()
}

// Close stops background work and releases storage. The persisted session
// is kept for the next start.
func (a *App) Close() error {
	a.unsubscribe()
	a.Realtime.Close()
	a.activity.Wait()
	a.Notifications.Close()
	a.Reporter.Close()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
