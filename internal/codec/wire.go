package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Kind tags the payload carried by a frame.
type Kind byte

const (
	// KindRaw is an opaque byte payload.
	KindRaw Kind = 1
	// KindResponse is a msgpack encoded model.Response.
	KindResponse Kind = 2
	// KindMeta is a CBOR encoded metadata map.
	KindMeta Kind = 3
)

const (
	version       byte = 1
	flagZlib      byte = 1 << 0
	headerSize         = 4 + 1 + 1 + 1 + 4
	maxPayloadLen      = 1<<32 - 1

	// MaxDecodedSize bounds the inflated payload of one frame. It leaves
	// room for a response body at the transport's 10 MiB cap plus its
	// headers and encoding overhead.
	MaxDecodedSize = 64 << 20
)

var (
	// ErrCorrupt is returned when a frame fails validation.
	ErrCorrupt = errors.New("codec: corrupt frame")

	// ErrUnsupportedVersion is returned for frames written by a newer format.
	ErrUnsupportedVersion = errors.New("codec: unsupported frame version")

	// ErrTooLarge is returned when a compressed payload inflates past the
	// decode limit. It wraps ErrCorrupt.
	ErrTooLarge = fmt.Errorf("%w: payload exceeds decode limit", ErrCorrupt)

	magic = [...]byte{'C', 'C', 'V', '1'}
)

// Options controls how frames are written.
type Options struct {
	// Compress enables zlib compression of the payload.
	Compress bool

	// Level is the zlib compression level (1-9). Zero means the zlib default.
	Level int
}

// DefaultOptions compresses with zlib level 6.
func DefaultOptions() Options {
	return Options{Compress: true, Level: 6}
}

// Encode wraps payload in a frame:
//
//	magic(4) | version(1) | kind(1) | flags(1) | len(u32 be) | payload(len)
//
// len is the length of the stored (possibly compressed) payload.
func Encode(kind Kind, payload []byte, opts Options) ([]byte, error) {
	var flags byte
	body := payload
	if opts.Compress {
		compressed, err := deflate(payload, opts.Level)
		if err != nil {
			return nil, err
		}
		body = compressed
		flags |= flagZlib
	}
	if uint64(len(body)) > maxPayloadLen {
		return nil, fmt.Errorf("codec: payload too large (%d bytes)", len(body))
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(body))
	buf.Write(magic[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))
	buf.WriteByte(flags)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(body)))
	buf.Write(u4[:])
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode validates a frame and returns its kind and decompressed payload,
// inflating at most MaxDecodedSize bytes.
func Decode(b []byte) (Kind, []byte, error) {
	return DecodeLimit(b, MaxDecodedSize)
}

// DecodeLimit is Decode with an explicit bound on the inflated payload.
// A limit <= 0 disables the bound.
func DecodeLimit(b []byte, limit int64) (Kind, []byte, error) {
	if len(b) < headerSize || !bytes.Equal(b[:4], magic[:]) {
		return 0, nil, ErrCorrupt
	}
	if b[4] != version {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[4])
	}
	kind := Kind(b[5])
	flags := b[6]
	n := binary.BigEndian.Uint32(b[7:headerSize])
	if uint64(n) != uint64(len(b)-headerSize) {
		return 0, nil, ErrCorrupt
	}
	body := b[headerSize:]

	if flags&flagZlib == 0 {
		return kind, body, nil
	}
	payload, err := inflate(body, limit)
	if errors.Is(err, ErrTooLarge) {
		return 0, nil, err
	}
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return kind, payload, nil
}

// DecodeKind is Decode that also checks the frame kind.
func DecodeKind(b []byte, want Kind) ([]byte, error) {
	kind, payload, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("%w: kind %d, want %d", ErrCorrupt, kind, want)
	}
	return payload, nil
}

func deflate(payload []byte, level int) ([]byte, error) {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("codec: zlib writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(body []byte, limit int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if limit <= 0 {
		return io.ReadAll(r)
	}
	// one extra byte tells a payload of exactly limit from a longer one
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return out, nil
}
