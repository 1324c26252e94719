// Package codec converts typed payloads to and from queue message bodies.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
)

// MessageTypeAttribute names the attribute stamped with the payload's Go
// type on encode.
const MessageTypeAttribute = "MessageType"

// Message is the wire form produced and consumed by a Codec.
type Message struct {
	Body       string
	Attributes map[string]string
}

// Codec serializes values of T.
//
// Decode returns a nil pointer and no error when the body encodes an
// explicit null. Implementations must be safe for concurrent use.
type Codec[T any] interface {
	Encode(v T) (Message, error)
	Decode(msg Message) (*T, error)
}

// DecodeError reports a body that does not deserialize into the target type.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// JSON encodes T as a JSON body.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", typeName[T](), err)
	}
	return Message{
		Body:       string(b),
		Attributes: map[string]string{MessageTypeAttribute: typeName[T]()},
	}, nil
}

func (JSON[T]) Decode(msg Message) (*T, error) {
	return decodeJSON[T]([]byte(msg.Body))
}

// Base64JSON encodes T as base64-wrapped JSON, for bodies that must stay
// within the service's restricted character set.
type Base64JSON[T any] struct{}

func (Base64JSON[T]) Encode(v T) (Message, error) {
	m, err := JSON[T]{}.Encode(v)
	if err != nil {
		return Message{}, err
	}
	m.Body = base64.StdEncoding.EncodeToString([]byte(m.Body))
	return m, nil
}

func (Base64JSON[T]) Decode(msg Message) (*T, error) {
	raw, err := base64.StdEncoding.DecodeString(msg.Body)
	if err != nil {
		return nil, &DecodeError{Type: typeName[T](), Err: err}
	}
	return decodeJSON[T](raw)
}

func decodeJSON[T any](b []byte) (*T, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Type: typeName[T](), Err: fmt.Errorf("empty body")}
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	out := new(T)
	if err := json.Unmarshal(trimmed, out); err != nil {
		return nil, &DecodeError{Type: typeName[T](), Err: err}
	}
	return out, nil
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
