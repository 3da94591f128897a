package eventing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	voltage "linemonitor/internal/voltage/domain"
)

// TimeLayout is the timestamp layout inside the leading brackets of a wire message.
const TimeLayout = "2006-01-02 15:04:05.000000"

const telemetrySuffix = "AC"

// ErrMalformedMessage is returned for text that is not a wire message.
var ErrMalformedMessage = errors.New("eventing: malformed message")

// Message is a decoded wire message. Kind selects which of the other fields are meaningful.
type Message struct {
	Kind  voltage.EventKind
	At    time.Time
	Line  voltage.LineID
	Value float64
	Text  string
}

// Event converts the message back into a domain event.
func (m Message) Event() voltage.Event {
	switch m.Kind {
	case voltage.KindTelemetry:
		return voltage.NewTelemetry(m.Line, m.Value, m.At)
	case voltage.KindNotice:
		return voltage.NewNotice(m.Text, m.At)
	default:
		return voltage.NewTransition(m.Kind, m.Line, m.At)
	}
}

// Encode renders event as "[YYYY-MM-DD HH:MM:SS.ffffff] KIND: payload" in UTC.
func Encode(event voltage.Event) (string, error) {
	var kind, payload string
	switch event.Kind {
	case voltage.KindFlicker, voltage.KindOutage, voltage.KindClear:
		if event.Line == "" {
			return "", fmt.Errorf("eventing: %s without a line", event.Kind)
		}
		kind, payload = string(event.Kind), event.Line.String()
	case voltage.KindTelemetry:
		if event.Line == "" {
			return "", errors.New("eventing: telemetry without a line")
		}
		kind, payload = event.Line.Label(), fmt.Sprintf("%.2f", event.Value)
	case voltage.KindNotice:
		kind, payload = string(voltage.KindNotice), event.Payload
	default:
		return "", fmt.Errorf("eventing: unknown event kind %q", event.Kind)
	}
	return "[" + event.EmittedAt.UTC().Format(TimeLayout) + "] " + kind + ": " + payload, nil
}

// Decode parses one wire message. Any text that does not match the format yields ErrMalformedMessage.
func Decode(text string) (Message, error) {
	text = strings.TrimRight(text, "\r\n\x00")
	if !strings.HasPrefix(text, "[") {
		return Message{}, fmt.Errorf("%w: missing timestamp", ErrMalformedMessage)
	}
	end := strings.Index(text, "] ")
	if end < 0 {
		return Message{}, fmt.Errorf("%w: unterminated timestamp", ErrMalformedMessage)
	}
	at, err := time.ParseInLocation(TimeLayout, text[1:end], time.UTC)
	if err != nil {
		return Message{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedMessage, err)
	}
	kind, payload, ok := strings.Cut(text[end+2:], ": ")
	if !ok || kind == "" {
		return Message{}, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}

	msg := Message{At: at}
	switch voltage.EventKind(kind) {
	case voltage.KindFlicker, voltage.KindOutage, voltage.KindClear:
		line := strings.TrimSpace(payload)
		if line == "" {
			return Message{}, fmt.Errorf("%w: %s without a line", ErrMalformedMessage, kind)
		}
		msg.Kind = voltage.EventKind(kind)
		msg.Line = voltage.LineID(line)
	case voltage.KindNotice:
		msg.Kind = voltage.KindNotice
		msg.Text = payload
	default:
		line, isTelemetry := strings.CutSuffix(kind, telemetrySuffix)
		if !isTelemetry || line == "" || !isLineKind(line) {
			return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, kind)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: telemetry value %q", ErrMalformedMessage, payload)
		}
		msg.Kind = voltage.KindTelemetry
		msg.Line = voltage.LineID(line)
		msg.Value = value
	}
	return msg, nil
}

func isLineKind(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
