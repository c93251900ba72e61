package eventsock

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseFrame_Event(t *testing.T) {
	raw := []byte(`{"event":"text","payload":{"from":"p1","message":"hi"}}`)

	f, err := parseFrame(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != "text" || f.isAck() {
		t.Fatalf("unexpected frame: %#v", f)
	}
	var payload struct {
		From string `json:"from"`
	}
	if err := json.Unmarshal(f.Payload, &payload); err != nil || payload.From != "p1" {
		t.Fatalf("unexpected payload: %s", f.Payload)
	}
}

func TestParseFrame_EventWithAckID(t *testing.T) {
	f, err := parseFrame([]byte(`{"event":"login","payload":{"token":"t"},"ack":7}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != "login" || f.Ack != 7 || f.isAck() {
		t.Fatalf("unexpected frame: %#v", f)
	}
}

func TestParseFrame_Ack(t *testing.T) {
	f, err := parseFrame([]byte(`{"ack":3,"args":["ok",{"reconnectionTicket":"T1"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.isAck() || f.Ack != 3 || len(f.Args) != 2 {
		t.Fatalf("unexpected frame: %#v", f)
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"empty object", `{}`, errEmptyFrame},
		{"reserved name", `{"event":"connect"}`, errReservedEvent},
		{"reserved reconnecting", `{"event":"reconnecting"}`, errReservedEvent},
		{"args on event", `{"event":"text","args":["x"]}`, errArgsOnEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseFrame([]byte(tc.raw)); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseFrame_DisallowUnknownFields(t *testing.T) {
	if _, err := parseFrame([]byte(`{"event":"text","unexpected":true}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseFrame_NotJSON(t *testing.T) {
	if _, err := parseFrame([]byte(`not-json`)); err == nil {
		t.Fatalf("expected error")
	}
}
