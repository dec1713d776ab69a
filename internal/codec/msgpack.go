package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is a Codec backed by vmihailenco/msgpack/v5.
// The zero value is ready to use. Use `msgpack:"name"` tags on V.
type Msgpack[V any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

// Encode encodes v as msgpack.
func (Msgpack[V]) Encode(v V) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode decodes b into a V.
func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
