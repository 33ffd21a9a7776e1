package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseInbound(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		want    string
		wantMsg string
	}{
		{name: "valid", data: `{"content": "привет"}`, want: "привет"},
		{name: "invalid json", data: `{"content":`, wantMsg: "Неверный JSON"},
		{name: "missing content", data: `{"text": "hi"}`, wantMsg: "Отсутствует 'content'"},
		{name: "content not a string", data: `{"content": 5}`, wantMsg: "Недопустимое содержимое"},
		{name: "empty object", data: `{}`, wantMsg: "Отсутствует 'content'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tc.data))
			if tc.wantMsg != "" {
				var cerr Error
				if !errors.As(err, &cerr) {
					t.Fatalf("expected chat.Error, got %v", err)
				}
				if cerr.Kind != ProtocolError {
					t.Errorf("expected ProtocolError, got %v", cerr.Kind)
				}
				if cerr.Message != tc.wantMsg {
					t.Errorf("expected message %q, got %q", tc.wantMsg, cerr.Message)
				}
				if cerr.Fatal() {
					t.Error("protocol errors must not tear the connection down")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected content %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParseInbound_ContentBoundary(t *testing.T) {
	frame := func(content string) []byte {
		data, err := json.Marshal(map[string]string{"content": content})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	if _, err := ParseInbound(frame(strings.Repeat("а", MaxContentRunes))); err != nil {
		t.Errorf("content of exactly %d runes must be accepted: %v", MaxContentRunes, err)
	}
	if _, err := ParseInbound(frame(strings.Repeat("а", MaxContentRunes+1))); err == nil {
		t.Errorf("content of %d runes must be rejected", MaxContentRunes+1)
	}
}
