// Package serialize defines the pluggable payload serializer used for job
// arguments, results, and metadata.
//
// The set of serializers is closed: callers pick one by name through
// configuration, never by loading code dynamically. All workers touching a
// queue must agree on the serializer used for its jobs.
package serialize

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/ostler"
)

// Serializer is the two-operation dumps/loads contract.
type Serializer interface {
	// Dumps serializes a value to bytes.
	Dumps(v any) ([]byte, error)

	// Loads deserializes bytes into the value pointed to by v.
	Loads(data []byte, v any) error

	// Name returns the serializer identifier ("json", "msgpack").
	Name() string
}

// Name constants for configuration.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a serializer by name. The empty string selects JSON. Unknown
// names fail with ostler.ErrUnknownSerializer so a misconfigured worker
// cannot silently write payloads its peers will not understand.
func Get(name string) (Serializer, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ostler.ErrUnknownSerializer, name)
	}
}

// JSON serializes payloads with encoding/json.
type JSON struct{}

func (JSON) Dumps(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Loads(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSON) Name() string { return NameJSON }

// Msgpack serializes payloads with MessagePack.
type Msgpack struct{}

func (Msgpack) Dumps(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Loads(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (Msgpack) Name() string { return NameMsgpack }

var (
	_ Serializer = JSON{}
	_ Serializer = Msgpack{}
)
