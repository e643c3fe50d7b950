package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

const DTypeFloat32 = "float32"

var ErrCorruptBlob = errors.New("corrupt weight blob")

// Spec describes one tensor inside a packed weight blob. Offset and Length
// are in elements of the uncompressed payload.
type Spec struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	DType  string `json:"dtype"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Pack serializes tensors as little-endian float32 and compresses the result
// with zstd.
func Pack(ts []*Tensor) ([]byte, []Spec, error) {
	total := 0
	specs := make([]Spec, 0, len(ts))
	for _, t := range ts {
		if t.Released() {
			return nil, nil, fmt.Errorf("pack %s: %w", t.name, ErrReleased)
		}
		specs = append(specs, Spec{
			Name:   t.name,
			Shape:  t.Shape(),
			DType:  DTypeFloat32,
			Offset: total,
			Length: t.Len(),
		})
		total += t.Len()
	}

	raw := make([]byte, total*4)
	pos := 0
	for _, t := range ts {
		for _, v := range t.data {
			binary.LittleEndian.PutUint32(raw[pos:], math.Float32bits(v))
			pos += 4
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), specs, nil
}

// Unpack allocates one tensor per spec on b and fills it from blob. On error
// every tensor allocated so far is released.
func Unpack(b *Backend, blob []byte, specs []Spec) ([]*Tensor, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorruptBlob, len(raw))
	}
	elems := len(raw) / 4

	ts := make([]*Tensor, 0, len(specs))
	for _, s := range specs {
		if s.DType != DTypeFloat32 {
			ReleaseAll(ts...)
			return nil, fmt.Errorf("%w: tensor %s has dtype %q", ErrCorruptBlob, s.Name, s.DType)
		}
		if s.Offset < 0 || s.Length < 0 || s.Offset+s.Length > elems {
			ReleaseAll(ts...)
			return nil, fmt.Errorf("%w: tensor %s out of range", ErrCorruptBlob, s.Name)
		}
		t, err := b.Zeros(s.Name, s.Shape...)
		if err != nil {
			ReleaseAll(ts...)
			return nil, err
		}
		if t.Len() != s.Length {
			ReleaseAll(append(ts, t)...)
			return nil, fmt.Errorf("%w: tensor %s shape %v does not match length %d", ErrCorruptBlob, s.Name, s.Shape, s.Length)
		}
		for i := range t.data {
			off := (s.Offset + i) * 4
			t.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
		ts = append(ts, t)
	}
	return ts, nil
}
