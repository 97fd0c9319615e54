package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

// Hub gerencia conexões WebSocket e assinaturas por leilão
// subs: mapeia auctionID para o conjunto de conexões inscritas
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// auctionID -> set of connections
	subs map[string]map[*websocket.Conn]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*websocket.Conn]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
// Permite subscribe/unsubscribe em leilões e responde a pings
// Cada cliente pode acompanhar múltiplos leilões ao mesmo tempo
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			h.mu.Lock()
			if _, ok := h.subs[msg.AuctionID]; !ok {
				h.subs[msg.AuctionID] = make(map[*websocket.Conn]struct{})
			}
			h.subs[msg.AuctionID][conn] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			if m, ok := h.subs[msg.AuctionID]; ok {
				delete(m, conn)
				if len(m) == 0 {
					delete(h.subs, msg.AuctionID)
				}
			}
			h.mu.Unlock()
		case "ping":
			_ = conn.WriteJSON(map[string]string{"type": "pong"})
		}
	}
	// Remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for _, set := range h.subs {
		delete(set, conn)
	}
	h.mu.Unlock()
}

// Broadcast envia um evento de lance para todos os clientes inscritos no leilão
// Entrega best-effort: conexão lenta ou quebrada não bloqueia as demais
func (h *Hub) Broadcast(ev events.BidEvent) {
	h.mu.RLock()
	conns := h.subs[ev.AuctionID]
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, _ := json.Marshal(ev)
	for c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}

// Subscribers devolve quantas conexões acompanham o leilão (exposto para métricas)
func (h *Hub) Subscribers(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}
