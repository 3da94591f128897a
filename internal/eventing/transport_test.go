package eventing

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"linemonitor/internal/observability/metrics"
	voltage "linemonitor/internal/voltage/domain"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestMulticastPublisherReachesSubscriber(t *testing.T) {
	port := freeUDPPort(t)
	m := metrics.New(prometheus.NewRegistry())
	sub, err := NewSubscriber(GroupConfig{Group: "127.0.0.1", Port: port}, WithReceiveTimeout(2*time.Second), WithSubscriberMetrics(m))
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	defer sub.Close()
	pub, err := NewMulticastPublisher(GroupConfig{Group: "127.0.0.1", Port: port, Source: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub.Publish(context.Background(), voltage.NewTransition(voltage.KindOutage, "240V", at))

	msg, err := sub.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Kind != voltage.KindOutage || msg.Line != "240V" || !msg.At.Equal(at) {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSubscriberDiscardsGarbageAndTimesOut(t *testing.T) {
	port := freeUDPPort(t)
	m := metrics.New(prometheus.NewRegistry())
	sub, err := NewSubscriber(GroupConfig{Group: "127.0.0.1", Port: port}, WithReceiveTimeout(50*time.Millisecond), WithSubscriberMetrics(m))
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	defer sub.Close()

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := sub.Receive(context.Background()); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected malformed message, got %v", err)
	}
	if _, err := sub.Receive(context.Background()); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if err := sub.Resubscribe(); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
}

func TestSubscriberReceiveHonorsContext(t *testing.T) {
	sub, err := NewSubscriber(GroupConfig{Group: "127.0.0.1", Port: freeUDPPort(t)}, WithReceiveTimeout(time.Minute))
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("receive ignored the context")
	}
}

func TestPublisherWithoutListenerDoesNotBlock(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pub, err := NewMulticastPublisher(GroupConfig{Group: "127.0.0.1", Port: freeUDPPort(t), Source: "127.0.0.1:0"}, WithMetrics(m))
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pub.Publish(context.Background(), voltage.NewTelemetry("120V", 120, time.Now()))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publish blocked without a listener")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []voltage.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event voltage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestMultiPublisherFansOut(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	multi := NewMultiPublisher(a, nil, b)
	multi.Publish(context.Background(), voltage.NewNotice("hi", time.Now()))
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both publishers to receive the event")
	}
}

type doneToken struct {
	err error
}

func (d doneToken) Wait() bool                     { return true }
func (d doneToken) WaitTimeout(time.Duration) bool { return true }
func (d doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (d doneToken) Error() error { return d.err }

type published struct {
	topic   string
	qos     byte
	payload any
}

type fakeMQTTClient struct {
	mqtt.Client
	mu   sync.Mutex
	sent []published
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload})
	return doneToken{}
}

func TestMQTTPublisherMirrorsAndRaisesAlarms(t *testing.T) {
	client := &fakeMQTTClient{}
	pub := NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "site/events", AlarmTopic: "site/power"})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pub.Publish(context.Background(), voltage.NewTelemetry("120V", 120.5, at))
	pub.Publish(context.Background(), voltage.NewTransition(voltage.KindOutage, "120V", at))
	pub.Publish(context.Background(), voltage.NewTransition(voltage.KindClear, "120V", at))

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.sent) != 5 {
		t.Fatalf("expected 3 mirrored messages and 2 alarms, got %d", len(client.sent))
	}
	if client.sent[0].topic != "site/events" || client.sent[0].payload != "[2026-03-01 12:00:00.000000] 120VAC: 120.50" {
		t.Fatalf("unexpected mirror %+v", client.sent[0])
	}
	var alarm PowerAlarm
	if err := json.Unmarshal(client.sent[2].payload.([]byte), &alarm); err != nil {
		t.Fatalf("decode alarm: %v", err)
	}
	if client.sent[2].topic != "site/power" || alarm.Up || alarm.Type != 1 || alarm.Scope != "1p" {
		t.Fatalf("unexpected outage alarm %+v", alarm)
	}
	if err := json.Unmarshal(client.sent[4].payload.([]byte), &alarm); err != nil {
		t.Fatalf("decode alarm: %v", err)
	}
	if !alarm.Up {
		t.Fatalf("expected clear to raise up=true")
	}
}
