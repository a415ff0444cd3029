// Package telemetry reports client-side failures and activity. Reporting is
// fire-and-forget: nothing here blocks the caller or returns an error.
package telemetry

import "lms-realtime/models"

type Reporter interface {
	Error(err error, extras map[string]interface{})
	Event(name string, extras map[string]interface{})
	SetUser(u *models.User)
	Close()
}

// Nop discards everything.
type Nop struct{}

var _ Reporter = Nop{}

func (Nop) Error(error, map[string]interface{})  {}
func (Nop) Event(string, map[string]interface{}) {}
func (Nop) SetUser(*models.User)                 {}
func (Nop) Close()                               {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}
