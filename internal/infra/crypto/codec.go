package crypto

import (
	"fmt"
	"reflect"

	"custodia/internal/domain"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so that the same payload always
// yields the same bytes, and therefore the same content hash.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("crypto: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("crypto: cbor decoder: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func EncodePayload(p domain.Payload) ([]byte, error) {
	if p == nil {
		return nil, domain.NewValidationError("payload", "is required")
	}
	return Marshal(p)
}

func DecodePayload(kind domain.TxKind, data []byte) (domain.Payload, error) {
	p, err := domain.DecodePayload(kind, func(target any) error {
		return Unmarshal(data, target)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

func EncodeIdentity(id domain.Identity) ([]byte, error) {
	return Marshal(id)
}

func DecodeIdentity(data []byte) (domain.Identity, error) {
	var id domain.Identity
	if err := Unmarshal(data, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return id, nil
}
