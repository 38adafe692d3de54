package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// wsSink writes hub events to one websocket. Send is only called by the
// hub's writer goroutine for this connection.
type wsSink struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsSink) Send(ev domain.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) Close() error {
	var err error
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

// socket upgrades to the event channel. The client joins and leaves board
// rooms with join-board and leave-board messages; everything the server
// sends goes through the hub so each connection sees one ordered stream.
func socket(rooms Rooms, logger *log.Logger) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), http.Header{HeaderUserID: {userFrom(c)}})
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return nil
		}
		connID := domain.MakeID()
		entry := logger.WithFields(log.Fields{"conn": connID, "user": userFrom(c)})
		sink := &wsSink{conn: ws}
		if err := rooms.Connect(connID, sink); err != nil {
			entry.WithError(err).Error("failed to register connection")
			_ = sink.Close()
			return nil
		}
		defer rooms.Disconnect(connID)
		entry.Debug("socket connected")

		done := make(chan struct{})
		defer close(done)
		go keepAlive(ws, done)

		ws.SetReadLimit(maxMessageSize)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					entry.WithError(err).Debug("socket closed")
				}
				return nil
			}
			var ev domain.Event
			if err := sonic.Unmarshal(data, &ev); err != nil {
				_ = rooms.EmitTo(connID, domain.ErrorEvent("", domain.Invalid("malformed message")))
				continue
			}
			handleClientEvent(rooms, connID, ev, entry)
		}
	}
}

func handleClientEvent(rooms Rooms, connID string, ev domain.Event, entry *log.Entry) {
	if ev.Room == "" && (ev.Type == domain.EventJoinBoard || ev.Type == domain.EventLeaveBoard) {
		_ = rooms.EmitTo(connID, domain.ErrorEvent("", domain.Invalid("%s needs a room", ev.Type)))
		return
	}
	switch ev.Type {
	case domain.EventJoinBoard:
		if err := rooms.Join(ev.Room, connID); err != nil {
			entry.WithError(err).WithField("room", ev.Room).Warn("join failed")
			return
		}
		_ = rooms.EmitTo(connID, domain.Event{Type: domain.EventJoined, Room: ev.Room})
	case domain.EventLeaveBoard:
		rooms.Leave(ev.Room, connID)
		_ = rooms.EmitTo(connID, domain.Event{Type: domain.EventLeft, Room: ev.Room})
	default:
		_ = rooms.EmitTo(connID, domain.ErrorEvent(ev.Room, domain.Invalid("unsupported message type %q", ev.Type)))
	}
}

func keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
