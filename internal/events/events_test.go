package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"recipebox/internal/logging"
	"recipebox/pkg/models"
)

func TestBroadcastReachesClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/ws", WSHandler(hub, logging.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, welcome, err := ws.ReadMessage()
	if err != nil || !strings.Contains(string(welcome), "welcome") {
		t.Fatalf("welcome = %q, err = %v", welcome, err)
	}

	// the welcome is written after registration, so the client is counted
	if hub.Stats().Clients != 1 {
		t.Fatalf("clients = %d", hub.Stats().Clients)
	}

	hub.BroadcastJSON(models.RecipeEvent{Type: models.EventRecipeSaved, Slug: "apple-pie"})

	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev models.RecipeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != models.EventRecipeSaved || ev.Slug != "apple-pie" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	hub := NewHub()
	hub.BroadcastJSON(map[string]string{"type": "noop"})
	if hub.Stats().Clients != 0 {
		t.Fatal("expected no clients")
	}
}
