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

	"github.com/ehr/patientflow/internal/platform/notification"
)

func admitted(ward string) notification.Event {
	return notification.NewEvent(notification.ScopeWard, ward, notification.KindPatientAdmitted,
		map[string]interface{}{"bed_number": "ICU-01"})
}

func receive(t *testing.T, c *Client) notification.Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev notification.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return notification.Event{}
}

func TestHub_PublishToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	icu, medical := newClient(), newClient()
	hub.Register(icu, "ward/ICU")
	hub.Register(medical, "ward/Medical")

	if err := hub.Publish(context.Background(), admitted("ICU")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev := receive(t, icu)
	if ev.Kind != notification.KindPatientAdmitted || ev.Target != "ICU" {
		t.Errorf("unexpected event %+v", ev)
	}
	if len(medical.Send) != 0 {
		t.Error("Medical board should not see ICU events")
	}
}

func TestHub_WildcardReceivesOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient()
	hub.Register(c, AllTopics, "ward/ICU")

	hub.Publish(context.Background(), admitted("ICU"))
	hub.Publish(context.Background(), admitted("Surgical"))

	if len(c.Send) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(c.Send))
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient()
	hub.Register(c, "ward/ICU")
	for i := 0; i < sendBuffer+3; i++ {
		hub.Publish(context.Background(), admitted("ICU"))
	}
	if hub.Dropped() != 3 {
		t.Errorf("expected 3 drops, got %d", hub.Dropped())
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient()
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"ward/ICU", " department/ER ", ""}})
	if hub.TopicCount("ward/ICU") != 1 || hub.TopicCount("department/ER") != 1 {
		t.Fatalf("subscribe not applied: %v", c.Topics())
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"ward/ICU"}})
	if hub.TopicCount("ward/ICU") != 0 {
		t.Error("expected ward/ICU to be empty")
	}
	if got := c.Topics(); len(got) != 1 || got[0] != "department/ER" {
		t.Errorf("unexpected topics %v", got)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "shout", Topics: []string{"ward/ICU"}})
	if hub.TopicCount("ward/ICU") != 0 {
		t.Error("unknown actions must be ignored")
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient()
	hub.Register(c, "ward/ICU")
	hub.Unregister(c)
	hub.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Error("expected Send to be closed")
	}
	if hub.ClientCount() != 0 || hub.TopicCount("ward/ICU") != 0 {
		t.Error("client still tracked after unregister")
	}
	hub.Subscribe(c, []string{"ward/ICU"})
	if hub.TopicCount("ward/ICU") != 0 {
		t.Error("unregistered client must not resubscribe")
	}
	if err := hub.Publish(context.Background(), admitted("ICU")); err != nil {
		t.Errorf("publish after unregister: %v", err)
	}
}

func TestHub_ConcurrentPublishAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		c := newClient()
		hub.Register(c, "ward/ICU")
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), admitted("ICU"))
		}()
		go func() {
			defer wg.Done()
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_ImplementsPublisher(t *testing.T) {
	var _ notification.Publisher = NewHub(zerolog.Nop())
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), rec)
	h.Connect(c)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without upgrade headers, got %d", rec.Code)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://board.example.org"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if h.upgrader.CheckOrigin(req) {
		t.Error("unlisted origin accepted")
	}
	req.Header.Set("Origin", "https://board.example.org")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("listed origin rejected")
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, nil).RegisterRoutes(e)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=department/ER"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("department/ER") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("department/ER") != 1 {
		t.Fatal("client did not subscribe from the query string")
	}

	ev := notification.NewEvent(notification.ScopeDepartment, "ER", notification.KindPatientAdmitted, nil)
	hub.Publish(context.Background(), ev)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notification.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != ev.ID || got.Topic() != "department/ER" {
		t.Errorf("unexpected event %+v", got)
	}
}
