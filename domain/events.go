package domain

import (
	"github.com/bytedance/sonic"
)

// Event types carried on the event channel.
const (
	EventUpdateBoard = "update-board"
	EventJoinBoard   = "join-board"
	EventLeaveBoard  = "leave-board"
	EventJoined      = "joined-board"
	EventLeft        = "left-board"
	EventError       = "error"
)

// Event is the envelope for every message on the event channel. Room is the
// board id.
type Event struct {
	Type   string                 `json:"type"`
	Data   sonic.NoCopyRawMessage `json:"data,omitempty"`
	Room   string                 `json:"room,omitempty"`
	UserID string                 `json:"userId,omitempty"`
}

// UpdateBoardEvent builds the broadcast sent after a board is written.
func UpdateBoardEvent(b Board, userID string) (Event, error) {
	data, err := sonic.Marshal(b)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventUpdateBoard, Data: data, Room: b.ID, UserID: userID}, nil
}

// Board decodes the document carried by an update-board event.
func (e Event) Board() (Board, error) {
	var b Board
	if len(e.Data) == 0 {
		return b, Invalid("event %s carries no board", e.Type)
	}
	if err := sonic.Unmarshal(e.Data, &b); err != nil {
		return b, err
	}
	return b, nil
}

// ErrorEvent reports a rejected client message on the same connection.
func ErrorEvent(room string, err error) Event {
	msg, _ := sonic.Marshal(err.Error())
	return Event{Type: EventError, Room: room, Data: msg}
}
