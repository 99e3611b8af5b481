package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions keyed by deployment task ID.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message

	mu sync.RWMutex
}

// message couples payload with task identifier.
type message struct {
	taskID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	taskID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.taskID]; !ok {
				h.clients[sub.taskID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.taskID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.taskID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.taskID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.taskID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.taskID)
				}
			}
		}
	}
}

// Register adds a client to a task stream.
func (h *Hub) Register(taskID string, client Subscriber) {
	h.register <- subscription{taskID: taskID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(taskID string, client Subscriber) {
	h.unreg <- subscription{taskID: taskID, client: client}
}

// Broadcast sends payload to all clients watching the task.
func (h *Hub) Broadcast(taskID string, payload []byte) {
	h.broadcast <- message{taskID: taskID, payload: payload}
}
