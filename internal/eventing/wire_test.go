package eventing

import (
	"errors"
	"testing"
	"time"

	voltage "linemonitor/internal/voltage/domain"
)

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 15, 250000000, time.UTC)
	cases := []struct {
		name  string
		event voltage.Event
		want  string
	}{
		{"outage", voltage.NewTransition(voltage.KindOutage, "120V", at), "[2026-03-01 12:30:15.250000] OUTAGE: 120V"},
		{"flicker", voltage.NewTransition(voltage.KindFlicker, "240V", at), "[2026-03-01 12:30:15.250000] FLICKER: 240V"},
		{"clear", voltage.NewTransition(voltage.KindClear, "120V", at), "[2026-03-01 12:30:15.250000] CLEAR: 120V"},
		{"telemetry", voltage.NewTelemetry("120V", 119.876, at), "[2026-03-01 12:30:15.250000] 120VAC: 119.88"},
		{"notice", voltage.NewNotice("monitor started", at), "[2026-03-01 12:30:15.250000] NOTICE: monitor started"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Encode(tc.event)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestEncodeConvertsToUTC(t *testing.T) {
	mst := time.FixedZone("MST", -7*3600)
	event := voltage.Event{EmittedAt: time.Date(2026, 3, 1, 5, 0, 0, 0, mst), Kind: voltage.KindOutage, Line: "120V"}
	got, err := Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != "[2026-03-01 12:00:00.000000] OUTAGE: 120V" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestEncodeRejectsIncompleteEvents(t *testing.T) {
	if _, err := Encode(voltage.Event{Kind: voltage.KindFlicker}); err == nil {
		t.Fatalf("expected error for flicker without line")
	}
	if _, err := Encode(voltage.Event{Kind: "BOGUS", Line: "120V"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDecode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 15, 250000000, time.UTC)

	msg, err := Decode("[2026-03-01 12:30:15.250000] OUTAGE: 120V\n")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != voltage.KindOutage || msg.Line != "120V" || !msg.At.Equal(at) {
		t.Fatalf("unexpected message %+v", msg)
	}

	msg, err = Decode("[2026-03-01 12:30:15.250000] 240VAC: 241.30")
	if err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if msg.Kind != voltage.KindTelemetry || msg.Line != "240V" || msg.Value != 241.3 {
		t.Fatalf("unexpected telemetry %+v", msg)
	}

	msg, err = Decode("[2026-03-01 12:30:15.250000] NOTICE: meter: reconnected")
	if err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if msg.Kind != voltage.KindNotice || msg.Text != "meter: reconnected" {
		t.Fatalf("unexpected notice %+v", msg)
	}
}

func TestDecodeRoundTripsEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 15, 123456000, time.UTC)
	events := []voltage.Event{
		voltage.NewTransition(voltage.KindClear, "240V", at),
		voltage.NewTelemetry("120V", 120.5, at),
		voltage.NewTelemetry("main", 121.5, at),
		voltage.NewTelemetry("l1", 119.25, at),
		voltage.NewTelemetry("Aux240", 239.75, at),
		voltage.NewTransition(voltage.KindOutage, "Aux240", at),
	}
	for _, event := range events {
		text, err := Encode(event)
		if err != nil {
			t.Fatalf("encode %+v: %v", event, err)
		}
		msg, err := Decode(text)
		if err != nil {
			t.Fatalf("decode %q: %v", text, err)
		}
		got := msg.Event()
		if got.Kind != event.Kind || got.Line != event.Line || got.Payload != event.Payload || !got.EmittedAt.Equal(event.EmittedAt) {
			t.Fatalf("expected %+v, got %+v", event, got)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := []string{
		"",
		"OUTAGE: 120V",
		"[2026-03-01 12:30:15.250000 OUTAGE: 120V",
		"[yesterday] OUTAGE: 120V",
		"[2026-03-01 12:30:15.250000] OUTAGE 120V",
		"[2026-03-01 12:30:15.250000] OUTAGE: ",
		"[2026-03-01 12:30:15.250000] REBOOT: 120V",
		"[2026-03-01 12:30:15.250000] AC: 120.00",
		"[2026-03-01 12:30:15.250000] 120VAC: high",
	}
	for _, input := range inputs {
		if _, err := Decode(input); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%q: expected ErrMalformedMessage, got %v", input, err)
		}
	}
}
