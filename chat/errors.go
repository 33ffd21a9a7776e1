package chat

import "github.com/gofiber/websocket/v2"

// Kind is a closed enumeration of chat failure classes. Callers dispatch on it
// mechanically: auth and authz kinds close the connection with a policy
// violation, protocol kinds are answered in-band, the rest close with an
// internal error.
type Kind int

const (
	AuthError Kind = iota
	AuthzError
	ProtocolError
	LivenessFault
	DependencyFault
)

func (k Kind) String() string {
	switch k {
	case AuthError:
		return "auth"
	case AuthzError:
		return "authz"
	case ProtocolError:
		return "protocol"
	case LivenessFault:
		return "liveness"
	case DependencyFault:
		return "dependency"
	}
	return "unknown"
}

type Error struct {
	Kind    Kind
	Message string
}

func (e Error) Error() string {
	return e.Message
}

// CloseCode maps the error kind to the websocket close code sent to the peer.
func (e Error) CloseCode() int {
	switch e.Kind {
	case AuthError, AuthzError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// Fatal reports whether the error tears the connection down. Protocol errors
// are answered with an error frame instead.
func (e Error) Fatal() bool {
	return e.Kind != ProtocolError
}
