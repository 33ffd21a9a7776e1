package chat

import (
	"encoding/json"
	"unicode/utf8"
)

// MaxContentRunes bounds the body of an inbound message.
const MaxContentRunes = 1000

// ParseInbound validates a client frame and returns its content. Every
// failure is a ProtocolError: the caller answers with an error frame and the
// connection stays open.
func ParseInbound(data []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", Error{Kind: ProtocolError, Message: "Неверный JSON"}
	}
	raw, ok := fields["content"]
	if !ok {
		return "", Error{Kind: ProtocolError, Message: "Отсутствует 'content'"}
	}
	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		return "", Error{Kind: ProtocolError, Message: "Недопустимое содержимое"}
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return "", Error{Kind: ProtocolError, Message: "Недопустимое содержимое"}
	}
	return content, nil
}
