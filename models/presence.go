package models

const (
	StatusOnline = "online"
	StatusAway   = "away"
)

type PresenceEntry struct {
	UserID   ID     `json:"userId"`
	UserName string `json:"userName"`
	Status   string `json:"status,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// DedupePresence keeps the first entry per user id and fills in a missing
// status as online.
func DedupePresence(entries []PresenceEntry) []PresenceEntry {
	seen := make(map[ID]bool, len(entries))
	out := make([]PresenceEntry, 0, len(entries))
	for _, e := range entries {
		if e.UserID == "" || seen[e.UserID] {
			continue
		}
		seen[e.UserID] = true
		if e.Status == "" {
			e.Status = StatusOnline
		}
		out = append(out, e)
	}
	return out
}
