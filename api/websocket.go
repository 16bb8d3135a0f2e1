package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"proplink/driver"
	"proplink/logger"
	"proplink/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WebRequest struct {
	Command string `json:"command"` // "OPEN", "CLOSE", "RESET", "SEND", "DTR", "PORTS", "STATUS"
	Port    string `json:"port,omitempty"`
	Baud    int    `json:"baud,omitempty"`
	Data    string `json:"data,omitempty"`
	Level   bool   `json:"level,omitempty"`
}

type WebResponse struct {
	Status  string      `json:"status"` // "success", "error", "data", "state"
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// client serializes writes to one websocket connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(resp WebResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(resp)
}

type Handler struct {
	Session *session.Session
	Scanner *driver.Scanner

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHandler(sess *session.Session, scanner *driver.Scanner) *Handler {
	h := &Handler{
		Session: sess,
		Scanner: scanner,
		clients: make(map[*client]struct{}),
	}
	sess.State.SetCallback(func(info session.StatusInfo) {
		h.broadcast(WebResponse{Status: "state", Message: info.Message, Data: info})
	})
	return h
}

// Run pumps device output to every connected client until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	return h.Session.Pump(ctx, func(data []byte) {
		h.broadcast(WebResponse{Status: "data", Message: string(data), Data: data})
	})
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}
	c := &client{conn: conn}
	h.register(c)
	defer func() {
		h.unregister(c)
		conn.Close()
	}()

	info := h.Session.State.GetStatusInfo()
	c.send(WebResponse{Status: "state", Message: info.Message, Data: info})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var req WebRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			c.send(WebResponse{Status: "error", Message: "Invalid JSON"})
			continue
		}

		c.send(h.handleRequest(req))
	}
}

func (h *Handler) handleRequest(req WebRequest) WebResponse {
	switch req.Command {
	case "OPEN":
		if req.Port == "" {
			return errorResponse("Port is required")
		}
		if err := h.Session.Attach(req.Port, req.Baud); err != nil {
			return errorResponse(err.Error())
		}
		info := h.Session.State.GetStatusInfo()
		return WebResponse{Status: "success", Message: fmt.Sprintf("Opened %s at %d bps", info.Target, info.Baud), Data: info}
	case "CLOSE":
		if err := h.Session.Detach(); err != nil {
			return errorResponse(err.Error())
		}
		return WebResponse{Status: "success", Message: "Closed"}
	case "RESET":
		if err := h.Session.ResetDevice(); err != nil {
			return errorResponse(err.Error())
		}
		return WebResponse{Status: "success", Message: "Device reset"}
	case "SEND":
		n, err := h.Session.Send([]byte(req.Data))
		if err != nil {
			return errorResponse(err.Error())
		}
		return WebResponse{Status: "success", Message: "Sent", Data: n}
	case "DTR":
		if err := h.Session.SetDTR(req.Level); err != nil {
			return errorResponse(err.Error())
		}
		return WebResponse{Status: "success", Message: "DTR updated", Data: req.Level}
	case "PORTS":
		return WebResponse{Status: "success", Message: "Ports", Data: h.Scanner.Discover()}
	case "STATUS":
		info := h.Session.State.GetStatusInfo()
		return WebResponse{Status: "success", Message: info.Message, Data: info}
	}
	return errorResponse("Unknown Command")
}

func errorResponse(msg string) WebResponse {
	return WebResponse{Status: "error", Message: msg}
}

func (h *Handler) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Handler) broadcast(resp WebResponse) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(resp); err != nil {
			logger.Debug("Dropping websocket client: %v", err)
		}
	}
}
