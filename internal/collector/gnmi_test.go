package collector

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/openconfig/gnmi/proto/gnmi"
	"github.com/pisafe/pisafe/internal/config"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type fakeHub struct {
	gnmi.UnimplementedGNMIServer
	values map[string]*gnmi.TypedValue
}

func (f *fakeHub) Get(ctx context.Context, req *gnmi.GetRequest) (*gnmi.GetResponse, error) {
	var notifs []*gnmi.Notification
	for _, p := range req.GetPath() {
		val, ok := f.values[pathToString(p)]
		if !ok {
			continue
		}
		notifs = append(notifs, &gnmi.Notification{
			Timestamp: time.Now().UnixNano(),
			Update:    []*gnmi.Update{{Path: p, Val: val}},
		})
	}
	return &gnmi.GetResponse{Notification: notifs}, nil
}

func startHub(t *testing.T, hub *fakeHub) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	gnmi.RegisterGNMIServer(srv, hub)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func TestGNMIReaderRead(t *testing.T) {
	hub := &fakeHub{values: map[string]*gnmi.TypedValue{
		"/sensors/sensor[name=basement]/state/water": {Value: &gnmi.TypedValue_BoolVal{BoolVal: true}},
		"/sensors/sensor[name=attic]/state/temp":     {Value: &gnmi.TypedValue_DoubleVal{DoubleVal: 31.5}},
	}}
	lis := startHub(t, hub)

	r, err := NewGNMIReader(&config.GNMIConfig{Address: "bufnet", Port: 1}, map[string]string{
		"water":       "/sensors/sensor[name=basement]/state/water",
		"temperature": "sensors/sensor[name=attic]/state/temp",
		"missing":     "/sensors/sensor[name=garage]/state/door",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGNMIReader: %v", err)
	}
	r.dialer = func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if v, err := r.Read(ctx, "water"); err != nil || v != 1 {
		t.Fatalf("water = %v, %v", v, err)
	}
	if v, err := r.Read(ctx, "temperature"); err != nil || v != 31.5 {
		t.Fatalf("temperature = %v, %v", v, err)
	}
	var hf *HardwareFault
	if _, err := r.Read(ctx, "missing"); !errors.As(err, &hf) {
		t.Fatalf("expected HardwareFault for empty response, got %v", err)
	}

	h := r.Health()
	if !h.Connected || h.ReadCount != 2 || h.LastValue != 31.5 {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestGNMIReaderBacksOffAfterDialFailure(t *testing.T) {
	r, err := NewGNMIReader(&config.GNMIConfig{Address: "bufnet", Port: 1},
		map[string]string{"water": "/a/b"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	r.dialTimeout = 20 * time.Millisecond
	r.dialer = func(context.Context, string) (net.Conn, error) { return nil, errors.New("refused") }

	ctx := context.Background()
	if _, err := r.Read(ctx, "water"); !errors.Is(err, ErrHubUnavailable) {
		t.Fatalf("first read: expected ErrHubUnavailable, got %v", err)
	}
	start := time.Now()
	if _, err := r.Read(ctx, "water"); !errors.Is(err, ErrHubUnavailable) {
		t.Fatalf("second read: expected ErrHubUnavailable, got %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("read during backoff should fail fast without dialing")
	}
	if h := r.Health(); h.Connected || h.ReconnectCount != 1 {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestTypedValueToFloat(t *testing.T) {
	tests := []struct {
		name    string
		val     *gnmi.TypedValue
		want    float64
		wantErr bool
	}{
		{"int", &gnmi.TypedValue{Value: &gnmi.TypedValue_IntVal{IntVal: -4}}, -4, false},
		{"uint", &gnmi.TypedValue{Value: &gnmi.TypedValue_UintVal{UintVal: 7}}, 7, false},
		{"double", &gnmi.TypedValue{Value: &gnmi.TypedValue_DoubleVal{DoubleVal: 1.25}}, 1.25, false},
		{"bool false", &gnmi.TypedValue{Value: &gnmi.TypedValue_BoolVal{BoolVal: false}}, 0, false},
		{"string number", &gnmi.TypedValue{Value: &gnmi.TypedValue_StringVal{StringVal: " 42.5 "}}, 42.5, false},
		{"string open", &gnmi.TypedValue{Value: &gnmi.TypedValue_StringVal{StringVal: "OPEN"}}, 1, false},
		{"json number", &gnmi.TypedValue{Value: &gnmi.TypedValue_JsonIetfVal{JsonIetfVal: []byte("18.5")}}, 18.5, false},
		{"json string", &gnmi.TypedValue{Value: &gnmi.TypedValue_JsonVal{JsonVal: []byte(`"3"`)}}, 3, false},
		{"json object", &gnmi.TypedValue{Value: &gnmi.TypedValue_JsonVal{JsonVal: []byte(`{"a":1}`)}}, 0, true},
		{"garbage", &gnmi.TypedValue{Value: &gnmi.TypedValue_StringVal{StringVal: "wet"}}, 0, true},
		{"nil", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := typedValueToFloat(tt.val)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePath(t *testing.T) {
	p, err := parsePath("/sensors/sensor[name=attic][zone=2]/state/temp")
	if err != nil {
		t.Fatalf("parsePath: %v", err)
	}
	if got := pathToString(p); got != "/sensors/sensor[name=attic][zone=2]/state/temp" {
		t.Fatalf("round trip = %s", got)
	}
	for _, bad := range []string{"", "/", "/a[name/b", "/a[novalue]/b"} {
		if _, err := parsePath(bad); err == nil {
			t.Errorf("parsePath(%q) should fail", bad)
		}
	}
}

func TestBackoffDuration(t *testing.T) {
	r := &GNMIReader{backoff: Backoff{Min: time.Second, Max: 10 * time.Second}}
	if d := r.backoffDuration(0); d != time.Second {
		t.Errorf("attempt 0 = %v", d)
	}
	if d := r.backoffDuration(1); d < 2*time.Second || d >= 3*time.Second {
		t.Errorf("attempt 1 = %v", d)
	}
	if d := r.backoffDuration(20); d < 10*time.Second || d >= 11*time.Second {
		t.Errorf("attempt 20 should cap, got %v", d)
	}
}
