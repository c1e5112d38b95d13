package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"net/http"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(metrics.NewTestMetrics())
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func streamServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v1/stream", func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		client := hub.Attach(req.Context(), conn)
		client.Wait()
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + srv.URL[len("http"):] + "/v1/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t)
	srv := streamServer(t, hub)

	first := dial(t, srv)
	defer first.Close(websocket.StatusNormalClosure, "")
	second := dial(t, srv)
	defer second.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 2)

	snap := models.ReadinessSnapshot{State: models.StateReady, ComputedAt: time.Now()}
	hub.Broadcast(TypeReadiness, snap)

	for _, conn := range []*websocket.Conn{first, second} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type != TypeReadiness {
			t.Errorf("expected envelope type %q, got %q", TypeReadiness, env.Type)
		}
	}
}

func TestClientDisconnectDetaches(t *testing.T) {
	hub := startHub(t)
	srv := streamServer(t, hub)

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 0)
}

func TestBroadcastWithNoClients(t *testing.T) {
	hub := startHub(t)

	// Must not block or panic.
	hub.Broadcast(TypeRoster, models.Roster{FetchedAt: time.Now()})
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub(metrics.NewTestMetrics())
	go hub.Run()
	srv := streamServer(t, hub)

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Error("expected read to fail after shutdown")
	}
}

func TestEnvelopeShape(t *testing.T) {
	hub := startHub(t)
	srv := streamServer(t, hub)

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 1)

	session := models.VoiceSession{
		NetID:           "net-1",
		ConnectionState: models.ConnConnected,
		Mode:            models.ModeLive,
	}
	hub.Broadcast(TypeVoice, session)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env struct {
		Type    string              `json:"type"`
		Payload models.VoiceSession `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Payload.NetID != "net-1" {
		t.Errorf("expected netId net-1, got %q", env.Payload.NetID)
	}
	if env.Payload.ConnectionState.String() != "CONNECTED" {
		t.Errorf("expected CONNECTED, got %s", env.Payload.ConnectionState)
	}
}
