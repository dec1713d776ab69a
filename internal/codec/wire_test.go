package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("<html>hello</html>"), 200)

	for _, opts := range []Options{DefaultOptions(), {Compress: false}, {Compress: true, Level: 1}} {
		frame, err := Encode(KindRaw, payload, opts)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if opts.Compress && len(frame) >= len(payload) {
			t.Errorf("expected compressed frame smaller than payload, got %d >= %d", len(frame), len(payload))
		}

		kind, got, err := Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if kind != KindRaw {
			t.Errorf("expected KindRaw, got %d", kind)
		}
		if !bytes.Equal(got, payload) {
			t.Error("payload mismatch after round trip")
		}
	}
}

func TestDecodeRejectsCorruptFrames(t *testing.T) {
	t.Parallel()

	good, err := Encode(KindMeta, []byte("abc"), Options{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrCorrupt},
		{"bad magic", append([]byte("XXXX"), good[4:]...), ErrCorrupt},
		{"truncated", good[:len(good)-1], ErrCorrupt},
		{"future version", append(append([]byte{}, good[:4]...), append([]byte{9}, good[5:]...)...), ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Decode(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeLimit(t *testing.T) {
	t.Parallel()

	// a megabyte of zeros deflates to about a kilobyte
	payload := make([]byte, 1<<20)
	frame, err := Encode(KindRaw, payload, DefaultOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) > 16<<10 {
		t.Fatalf("expected a small compressed frame, got %d bytes", len(frame))
	}

	t.Run("over the limit", func(t *testing.T) {
		t.Parallel()
		_, _, err := DecodeLimit(frame, 64<<10)
		if !errors.Is(err, ErrTooLarge) || !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrTooLarge wrapping ErrCorrupt, got %v", err)
		}
	})

	t.Run("exactly the limit", func(t *testing.T) {
		t.Parallel()
		_, got, err := DecodeLimit(frame, int64(len(payload)))
		if err != nil || len(got) != len(payload) {
			t.Errorf("unexpected result: %d bytes, %v", len(got), err)
		}
	})

	t.Run("no limit", func(t *testing.T) {
		t.Parallel()
		if _, got, err := DecodeLimit(frame, 0); err != nil || len(got) != len(payload) {
			t.Errorf("unexpected result: %d bytes, %v", len(got), err)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		t.Parallel()
		if _, got, err := Decode(frame); err != nil || len(got) != len(payload) {
			t.Errorf("unexpected result: %d bytes, %v", len(got), err)
		}
	})
}

func TestDecodeKind(t *testing.T) {
	t.Parallel()

	frame, err := Encode(KindResponse, []byte("x"), DefaultOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeKind(frame, KindMeta); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected kind mismatch to be corrupt, got %v", err)
	}
	if got, err := DecodeKind(frame, KindResponse); err != nil || string(got) != "x" {
		t.Errorf("unexpected result %q, %v", got, err)
	}
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	type sample struct {
		Name  string            `msgpack:"name" cbor:"name"`
		Attrs map[string]string `msgpack:"attrs" cbor:"attrs"`
	}
	in := sample{Name: "page", Attrs: map[string]string{"b": "2", "a": "1"}}

	t.Run("msgpack", func(t *testing.T) {
		t.Parallel()
		var c Msgpack[sample]
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Name != in.Name || out.Attrs["a"] != "1" {
			t.Errorf("unexpected value %+v", out)
		}
	})

	t.Run("deterministic cbor", func(t *testing.T) {
		t.Parallel()
		c := MustCBOR[map[string]string](true)
		b1, err := c.Encode(map[string]string{"b": "2", "a": "1"})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		b2, err := c.Encode(map[string]string{"a": "1", "b": "2"})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if !bytes.Equal(b1, b2) {
			t.Error("expected identical encodings")
		}
		out, err := c.Decode(b1)
		if err != nil || out["b"] != "2" {
			t.Errorf("unexpected decode %v, %v", out, err)
		}
	})
}
