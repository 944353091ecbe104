package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// Record header bytes
const (
	headerRaw  byte = 0
	headerZstd byte = 1
)

// DefaultCompressionThreshold is the encoded size above which records are compressed
const DefaultCompressionThreshold = 4 * 1024

// record is the persisted form of a managed object
type record struct {
	ID    types.ObjectID   `json:"id"`
	State []byte           `json:"state"`
	Refs  []types.ObjectID `json:"refs,omitempty"`
}

// Codec encodes managed objects into store values. Encode and Decode are
// safe for concurrent use.
type Codec struct {
	compress  bool
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewCodec creates a codec. When compress is set, records larger than
// threshold bytes are zstd-compressed.
func NewCodec(compress bool, threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Codec{
		compress:  compress,
		threshold: threshold,
		enc:       enc,
		dec:       dec,
	}, nil
}

// Encode serializes obj
func (c *Codec) Encode(obj *types.ManagedObject) ([]byte, error) {
	payload, err := json.Marshal(record{
		ID:    obj.ID(),
		State: obj.State(),
		Refs:  obj.References(),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCodec, "failed to encode object").
			WithDetail("object_id", obj.ID())
	}

	if c.compress && len(payload) > c.threshold {
		out := make([]byte, 1, len(payload)/2+1)
		out[0] = headerZstd
		return c.enc.EncodeAll(payload, out), nil
	}

	out := make([]byte, 0, len(payload)+1)
	out = append(out, headerRaw)
	return append(out, payload...), nil
}

// Decode restores an object written by Encode
func (c *Codec) Decode(data []byte) (*types.ManagedObject, error) {
	if len(data) == 0 {
		return nil, errors.NewError(errors.ErrCodeCodec, "empty record")
	}

	payload := data[1:]
	switch data[0] {
	case headerRaw:
	case headerZstd:
		decoded, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCodec, "failed to decompress record")
		}
		payload = decoded
	default:
		return nil, errors.Newf(errors.ErrCodeCodec, "unknown record header %d", data[0])
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCodec, "failed to decode object")
	}
	return types.RestoreManagedObject(rec.ID, rec.State, rec.Refs), nil
}

// Close releases the compression resources
func (c *Codec) Close() error {
	c.dec.Close()
	return c.enc.Close()
}
