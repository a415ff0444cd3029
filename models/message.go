package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks a message id as a client-side placeholder that has not
// been confirmed by the server yet.
const TempIDPrefix = "temp-"

type Message struct {
	ID         ID        `json:"id"`
	RoomID     string    `json:"roomId"`
	UserID     ID        `json:"userId"`
	UserName   string    `json:"userName"`
	UserAvatar string    `json:"userAvatar,omitempty"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (m Message) Optimistic() bool {
	return strings.HasPrefix(string(m.ID), TempIDPrefix)
}

type SendMessageRequest struct {
	Message string `json:"message"`
}

type MessageResponse struct {
	Success bool    `json:"success"`
	Message Message `json:"message"`
}

type MessagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}

// WebSocket envelope. Every frame in both directions is one WSMessage.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	WSTypeJoinRoom          = "join-room"
	WSTypeChatMessage       = "chat-message"
	WSTypeOnlineUsersUpdate = "online-users-update"
	WSTypeNewNotification   = "new-notification"
)

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   ID     `json:"userId"`
	UserType string `json:"userType"`
	UserName string `json:"userName"`
}
