package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	ws "github.com/care-scheduler/backend/internal/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to WebSocket.
// A client can narrow its event stream with ?assignee_id=... or a subscribe command.
func WebSocketUpgrade(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := ws.NewClient(hub)
		if ids := r.URL.Query()["assignee_id"]; len(ids) > 0 {
			client.Subscribe(ids...)
		}
		hub.Register(client)

		go writePump(conn, client)
		go readPump(conn, client, hub)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps commands from the WebSocket connection until it closes.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		reply := handleClientMessage(message, client)
		data, err := reply.JSON()
		if err != nil {
			continue
		}
		client.Reply(data)
	}
}

// handleClientMessage applies a client command and returns the reply.
func handleClientMessage(message []byte, client *ws.Client) ws.Message {
	var cmd ws.Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return ws.NewMessage(ws.TypeError, ws.ErrorPayload{Code: "bad_message", Message: "message is not valid JSON"})
	}

	switch cmd.Type {
	case ws.TypePing:
		return ws.NewMessage(ws.TypePong, nil)

	case ws.TypeSubscribe, ws.TypeUnsubscribe:
		var p ws.SubscribePayload
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				return ws.NewMessage(ws.TypeError, ws.ErrorPayload{
					Code: "bad_payload", Message: err.Error(), OriginalType: string(cmd.Type),
				})
			}
		}
		if cmd.Type == ws.TypeSubscribe {
			client.Subscribe(p.AssigneeIDs...)
		} else {
			client.Unsubscribe(p.AssigneeIDs...)
		}
		ids := client.Subscriptions()
		sort.Strings(ids)
		return ws.NewMessage(ws.TypeSubscribeAck, ws.SubscribeAckPayload{AssigneeIDs: ids})

	default:
		return ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code: "unknown_command", Message: "unsupported message type", OriginalType: string(cmd.Type),
		})
	}
}
