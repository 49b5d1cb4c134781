package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/rotation"
)

func startServer(t *testing.T) (*httptest.Server, *rotation.Controller) {
	t.Helper()
	c := rotation.New(rotation.SourceFunc(func(ctx context.Context) ([]models.ContentItem, error) {
		return nil, nil
	}), rotation.Options{
		Name:             "articles",
		InitialItems:     []models.ContentItem{{ID: "1", Title: "first"}, {ID: "2", Title: "second"}},
		RotationInterval: time.Hour,
		RefreshInterval:  time.Hour,
		KeepOnEmpty:      true,
		Logger:           zerolog.Nop(),
	})
	reg := rotation.NewRegistry()
	if err := reg.Add(c); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go reg.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/rotators/{name}", NewHandler(reg))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-c.Done()
	})
	return srv, c
}

func dial(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rotators/" + name
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	for {
		var msg ServerMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestStreamSnapshots(t *testing.T) {
	srv, _ := startServer(t)
	ws := dial(t, srv, "articles")

	hello := readUntil(t, ws, func(m ServerMessage) bool { return true })
	if hello.Type != TypeHello || hello.Viewer == "" {
		t.Fatalf("first message = %+v, want hello with viewer id", hello)
	}

	msg := readUntil(t, ws, func(m ServerMessage) bool { return m.Type == TypeSnapshot })
	if msg.Snapshot.Name != "articles" || msg.Snapshot.Item == nil || msg.Snapshot.Item.Title != "first" {
		t.Errorf("unexpected snapshot: %+v", msg.Snapshot)
	}
}

func TestVisibilityMessages(t *testing.T) {
	srv, c := startServer(t)
	ws := dial(t, srv, "articles")
	readUntil(t, ws, func(m ServerMessage) bool { return m.Type == TypeHello })

	if err := ws.WriteJSON(ClientMessage{Type: TypeVisibility, Visible: false}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ws, func(m ServerMessage) bool {
		return m.Type == TypeSnapshot && !m.Snapshot.Visible
	})

	// Disconnecting the only viewer resumes rotation.
	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Snapshot().Visible {
		if time.Now().After(deadline) {
			t.Fatal("rotator still hidden after the viewer left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnknownRotator(t *testing.T) {
	srv, _ := startServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rotators/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
}
