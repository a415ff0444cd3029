package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationCourseUpdate  NotificationType = "course_update"
	NotificationCustomMessage NotificationType = "custom_message"
	NotificationAlert         NotificationType = "alert"
	NotificationGeneral       NotificationType = "general"
)

func (t *NotificationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch NotificationType(s) {
	case NotificationCourseUpdate, NotificationCustomMessage, NotificationAlert:
		*t = NotificationType(s)
	default:
		*t = NotificationGeneral
	}
	return nil
}

type CourseRef struct {
	ID    ID     `json:"id"`
	Title string `json:"title,omitempty"`
}

type Notification struct {
	ID      ID               `json:"id"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"` // rich text, rendered by the caller
	Type    NotificationType `json:"type"`
	Course  *CourseRef       `json:"course,omitempty"`
	IsRead  bool             `json:"isRead"`
	SentAt  time.Time        `json:"sentAt"`
}

type NotificationList struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

// DerivedUnread counts unread items in the fetched page. It can be lower than
// UnreadCount when the page is truncated by the limit.
func (l NotificationList) DerivedUnread() int {
	n := 0
	for _, item := range l.Notifications {
		if !item.IsRead {
			n++
		}
	}
	return n
}
