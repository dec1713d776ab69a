// Package codec serializes cache values.
//
// Values are encoded with a Codec and wrapped in a small versioned frame
// (see Encode and Decode) that records the payload kind and whether the
// payload is zlib compressed. The frame keeps the cache file independent of
// any one language runtime and lets future versions change the payload
// format without breaking old entries.
package codec

// Codec encodes and decodes values of type V.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
