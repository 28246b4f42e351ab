package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned when a kind token cannot be decoded.
// An envelope carrying such a token is malformed as a whole.
var ErrUnknownKind = errors.New("unknown message kind")

const (
	tokenRequest      = "Request"
	tokenNotification = "Notification"
	tokenResponsePfx  = "ResponseTo_"
)

// KindCase discriminates the Kind variants.
type KindCase int

const (
	// KindRequest expects exactly one terminating response.
	KindRequest KindCase = iota + 1
	// KindResponse answers the request named by Kind.RequestID.
	KindResponse
	// KindNotification is a response without a correlating request.
	KindNotification
)

// Kind is a tagged union: Request, Response(RequestID) or Notification.
type Kind struct {
	Case      KindCase
	RequestID string // set only for KindResponse
}

// Request returns the request kind.
func Request() Kind {
	return Kind{Case: KindRequest}
}

// Notification returns the notification kind.
func Notification() Kind {
	return Kind{Case: KindNotification}
}

// ResponseTo returns a response kind. A nil or empty request id yields a
// Notification, matching the "response without request" framing.
func ResponseTo(requestID *string) Kind {
	if requestID == nil || *requestID == "" {
		return Notification()
	}
	return Kind{Case: KindResponse, RequestID: *requestID}
}

// IsRequest reports whether the kind expects a reply.
func (k Kind) IsRequest() bool {
	return k.Case == KindRequest
}

// IsNotification reports whether the kind is a response without request.
func (k Kind) IsNotification() bool {
	return k.Case == KindNotification
}

// Correlates returns the request id this kind answers, if any.
func (k Kind) Correlates() (string, bool) {
	if k.Case == KindResponse {
		return k.RequestID, true
	}
	return "", false
}

// Token returns the wire token for the kind.
func (k Kind) Token() string {
	switch k.Case {
	case KindRequest:
		return tokenRequest
	case KindResponse:
		return tokenResponsePfx + k.RequestID
	default:
		return tokenNotification
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return k.Token()
}

// ParseKind decodes a wire token.
func ParseKind(token string) (Kind, error) {
	switch {
	case token == tokenRequest:
		return Request(), nil
	case token == tokenNotification:
		return Notification(), nil
	case strings.HasPrefix(token, tokenResponsePfx):
		id := strings.TrimPrefix(token, tokenResponsePfx)
		if id == "" {
			return Kind{}, fmt.Errorf("%w: %q has no request id", ErrUnknownKind, token)
		}
		return Kind{Case: KindResponse, RequestID: id}, nil
	default:
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, token)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.Token()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
