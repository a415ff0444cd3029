package models

type User struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// Session is the authenticated identity plus the bearer credential used for
// every REST call and for the socket handshake.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"-"`
}

func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.User.ID != ""
}

const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)
