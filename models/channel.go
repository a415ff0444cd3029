package models

type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UnreadCount int    `json:"unreadCount"`
}

type RoomsResponse struct {
	Success bool      `json:"success"`
	Rooms   []Channel `json:"rooms"`
}

// DefaultChannels is used whenever the room list cannot be fetched or comes
// back empty.
func DefaultChannels() []Channel {
	return []Channel{
		{ID: "general", Name: "General Discussion", Description: "Talk about anything course related"},
		{ID: "help", Name: "Help & Support", Description: "Ask questions and get help from peers"},
		{ID: "study-group", Name: "Study Group", Description: "Find study partners and share notes"},
	}
}
