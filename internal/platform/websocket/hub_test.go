package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/platform/notification"
)

func receive(t *testing.T, c *Client) (notification.Signal, bool) {
	t.Helper()
	select {
	case data := <-c.Send:
		var s notification.Signal
		if err := json.Unmarshal(data, &s); err != nil {
			t.Fatalf("payload is not a signal: %v", err)
		}
		return s, true
	default:
		return notification.Signal{}, false
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient(string(notification.KindBedNeedsCleaning))

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(string(notification.KindBedNeedsCleaning)) != 1 {
		t.Fatalf("expected 1 client on topic, got %d/%d", hub.ClientCount(), hub.TopicCount(string(notification.KindBedNeedsCleaning)))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(string(notification.KindBedNeedsCleaning)) != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send to be closed")
	}

	hub.Unregister(client)
}

func TestHub_NotifyRoutesByKind(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cleaning := NewClient(string(notification.KindBedNeedsCleaning))
	dispatches := NewClient(string(notification.KindIncidentDispatched))
	everything := NewClient(TopicAll, string(notification.KindBedNeedsCleaning))
	for _, c := range []*Client{cleaning, dispatches, everything} {
		hub.Register(c)
	}

	hub.Notify(context.Background(), notification.Signal{Kind: notification.KindBedNeedsCleaning, Resource: "bed-1"})

	if s, ok := receive(t, cleaning); !ok || s.Resource != "bed-1" {
		t.Errorf("cleaning subscriber got %+v, %v", s, ok)
	}
	if _, ok := receive(t, dispatches); ok {
		t.Error("dispatch subscriber should not see a cleaning signal")
	}
	if _, ok := receive(t, everything); !ok {
		t.Error("wildcard subscriber missed the signal")
	}
	if _, ok := receive(t, everything); ok {
		t.Error("client on both topics should get one copy")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient()
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"a", "b"}})
	if hub.TopicCount("a") != 1 || hub.TopicCount("b") != 1 {
		t.Fatal("expected subscriptions on a and b")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"a"}})
	if hub.TopicCount("a") != 0 || hub.TopicCount("b") != 1 {
		t.Fatal("expected only b after unsubscribe")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "b" {
		t.Errorf("client topics = %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "shout", Topics: []string{"c"}})
	if hub.TopicCount("c") != 0 {
		t.Error("unknown action must be ignored")
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient(TopicAll)
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.Notify(context.Background(), notification.Signal{Kind: notification.KindVehicleLowStock})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notify blocked on a full client buffer")
	}
	if len(client.Send) != sendBuffer {
		t.Errorf("expected buffer full at %d, got %d", sendBuffer, len(client.Send))
	}
}

func TestHub_ConcurrentRegisterNotify(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := NewClient(TopicAll)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Notify(context.Background(), notification.Signal{Kind: notification.KindHandoverCompleted})
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/signals/ws", nil)
	rec := httptest.NewRecorder()
	err := handler.HandleConnect(e.NewContext(req, rec))
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for a plain request")
	}
}

func TestHandler_StreamsManagerSignals(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mgr := notification.NewManager(notification.NewLogPublisher(zerolog.Nop()), "caredispatch", zerolog.Nop())
	mgr.Observe(hub)

	e := echo.New()
	NewHandler(hub).RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/signals/ws?kinds=" + string(notification.KindIncidentDispatched)
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(string(notification.KindIncidentDispatched)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mgr.Notify(context.Background(), notification.Signal{Kind: notification.KindBedNeedsCleaning, Resource: "bed-9"})
	mgr.Notify(context.Background(), notification.Signal{Kind: notification.KindIncidentDispatched, Resource: "inc-7"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notification.Signal
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Resource != "inc-7" || got.Status != notification.StatusSent {
		t.Errorf("unexpected signal %+v", got)
	}
}
