package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/rs/zerolog"
)

func TestSMSGatewaySend(t *testing.T) {
	var gotForm map[string]string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotUser, gotPass, _ = r.BasicAuth()
		gotForm = map[string]string{"To": r.Form.Get("To"), "From": r.Form.Get("From"), "Body": r.Form.Get("Body")}
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Form.Get("To") == "+1999" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"invalid number"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	t.Setenv("TEST_SMS_SID", "AC123")
	t.Setenv("TEST_SMS_TOKEN", "secret")
	g := NewSMSGateway(config.SMSConfig{
		GatewayURL:    srv.URL + "/Accounts/{account_sid}/Messages.json",
		AccountSIDEnv: "TEST_SMS_SID",
		AuthTokenEnv:  "TEST_SMS_TOKEN",
		FromNumber:    "+1000",
	}, zerolog.Nop())

	if err := g.Send(context.Background(), "+1555", "FIRE-kitchen"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Errorf("basic auth = %s:%s", gotUser, gotPass)
	}
	if gotForm["To"] != "+1555" || gotForm["From"] != "+1000" || gotForm["Body"] != "FIRE-kitchen" {
		t.Errorf("form = %v", gotForm)
	}

	if err := g.Send(context.Background(), "+1999", "x"); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (f *fakeSender) Send(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return errors.New("undeliverable")
	}
	f.sent = append(f.sent, to)
	return nil
}

func TestSMSChannelPartialFailure(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"+1555002": true}}
	ch := NewSMSChannel(sender, zerolog.Nop())

	targets, delivered, err := ch.Deliver(context.Background(), Delivery{
		AlertID: "a1", Text: "FLOOD", Recipients: testDirectory().Resolve(""),
	})
	if targets != 2 || delivered != 1 {
		t.Fatalf("targets=%d delivered=%d", targets, delivered)
	}
	var ce *ChannelError
	if !errors.As(err, &ce) || ce.Failed != 1 || ce.Channel != "sms" {
		t.Fatalf("expected ChannelError, got %v", err)
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}

func TestPushChannel(t *testing.T) {
	ws := &fakePublisher{}
	kafka := &fakePublisher{}
	ch := NewPushChannel(zerolog.Nop(), ws, kafka)

	targets, delivered, err := ch.Deliver(context.Background(), Delivery{
		AlertID: "a1", Text: "INTRUSION", Area: "front", Recipients: testDirectory().Resolve("front"),
	})
	if err != nil || targets != 2 || delivered != 2 {
		t.Fatalf("targets=%d delivered=%d err=%v", targets, delivered, err)
	}
	if len(ws.topics) != 2 || len(kafka.topics) != 2 || ws.topics[0] != "alerts.alice" {
		t.Fatalf("ws=%v kafka=%v", ws.topics, kafka.topics)
	}

	kafka.err = errors.New("broker down")
	_, delivered, err = ch.Deliver(context.Background(), Delivery{
		AlertID: "a2", Text: "INTRUSION", Recipients: testDirectory().Resolve("front"),
	})
	if delivered != 0 || err == nil {
		t.Fatalf("a failing transport should fail the recipient, delivered=%d err=%v", delivered, err)
	}
}
