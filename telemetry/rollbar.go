package telemetry

import (
	"log"
	"time"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"lms-realtime/models"
)

// Rollbar sends reports with the asynchronous rollbar client and mirrors
// them to the standard logger.
type Rollbar struct {
	client *rollbar.Client
	std    *log.Logger
}

var _ Reporter = (*Rollbar)(nil)

type RollbarConfig struct {
	Token       string
	Environment string
	CodeVersion string
	Host        string
}

func NewRollbar(std *log.Logger, conf RollbarConfig) *Rollbar {
	client := rollbar.New(conf.Token, conf.Environment, conf.CodeVersion, conf.Host, "")
	client.SetStackTracer(errors.StackTracer)
	client.SetPlatform("client")
	return &Rollbar{client: client, std: std}
}

func (r *Rollbar) Error(err error, extras map[string]interface{}) {
	if err == nil {
		return
	}
	r.client.ErrorWithExtras(rollbar.ERR, err, extras)
	r.std.Printf("[TELEMETRY] error: %+v %v", err, extras)
}

func (r *Rollbar) Event(name string, extras map[string]interface{}) {
	r.client.MessageWithExtras(rollbar.INFO, name, extras)
}

func (r *Rollbar) SetUser(u *models.User) {
	if u == nil {
		r.client.ClearPerson()
		return
	}
	r.client.SetPerson(u.ID.String(), u.Name, "")
}

// Close flushes queued reports, waiting at most a few seconds.
func (r *Rollbar) Close() {
	done := make(chan struct{})
	go func() {
		r.client.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		r.std.Printf("[TELEMETRY] Gave up flushing reports")
	}
}

func (r *Rollbar) Enable(enabled bool) {
	r.client.SetEnabled(enabled)
}
