package storage

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

const (
	// envelopeVersion is stamped into every envelope written by this
	// codec so a future layout change can be detected on read.
	envelopeVersion = 1

	// minCompressSize is the serialized size below which compression is
	// never attempted.
	minCompressSize = 1024

	// minCompressionGain is the fraction of the serialized size that
	// compression must save for the compressed form to be accepted.
	minCompressionGain = 0.10
)

// Envelope is the persisted wrapper around any stored collection. Data
// holds either the normalized JSON value (Compressed false) or a base64
// string of the compressed serialized form (Compressed true). Error
// marks an envelope produced by the encode failure path: its Data is
// the raw, non-normalized value.
type Envelope struct {
	Data             json.RawMessage `json:"data"`
	Compressed       bool            `json:"compressed"`
	OriginalSize     int             `json:"originalSize"`
	CompressedSize   int             `json:"compressedSize"`
	CompressionRatio float64         `json:"compressionRatio"`
	Version          int             `json:"version,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Compressor is a reversible transform over serialized bytes. The bit
// format is an implementation detail; only Decompress(Compress(b)) == b
// and the size-reduction behavior are contractual.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// flateCompressor is the default Compressor: DEFLATE, a dictionary
// back-reference scheme from the standard library.
type flateCompressor struct{}

func (flateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating flate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flushing compressed stream: %w", err)
	}
	return buf.Bytes(), nil
}

func (flateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// Codec converts between semantic values and their on-disk envelope
// form. Encoding always applies the lossy field-optimization pass first
// (see optimize.go); compression on top of it is best-effort and
// lossless.
type Codec struct {
	comp Compressor
}

// NewCodec creates a Codec with the default DEFLATE compressor.
func NewCodec() *Codec {
	return &Codec{comp: flateCompressor{}}
}

// NewCodecWith creates a Codec with a custom Compressor.
func NewCodecWith(comp Compressor) *Codec {
	return &Codec{comp: comp}
}

// Encode wraps value in an Envelope. It never fails: any error along
// the way degrades to an uncompressed envelope carrying the original
// value with an Error marker, so a misbehaving value can still be
// persisted and inspected.
func (c *Codec) Encode(value any) Envelope {
	raw, err := json.Marshal(value)
	if err != nil {
		return Envelope{
			Data:       json.RawMessage("null"),
			Compressed: false,
			Version:    envelopeVersion,
			Error:      fmt.Sprintf("serializing value: %v", err),
		}
	}

	serialized, err := normalizeSerialized(raw)
	if err != nil {
		return Envelope{
			Data:         raw,
			Compressed:   false,
			OriginalSize: len(raw),
			Version:      envelopeVersion,
			Error:        fmt.Sprintf("normalizing value: %v", err),
		}
	}

	env := Envelope{
		Data:             serialized,
		Compressed:       false,
		OriginalSize:     len(serialized),
		CompressedSize:   len(serialized),
		CompressionRatio: 1,
		Version:          envelopeVersion,
	}

	if len(serialized) < minCompressSize {
		return env
	}

	compressed, err := c.comp.Compress(serialized)
	if err != nil {
		// Error envelopes always carry the pre-normalization bytes so the
		// verbatim decode path loses nothing.
		return Envelope{
			Data:         raw,
			Compressed:   false,
			OriginalSize: len(raw),
			Version:      envelopeVersion,
			Error:        fmt.Sprintf("compressing value: %v", err),
		}
	}

	encoded := base64.StdEncoding.EncodeToString(compressed)
	if float64(len(encoded)) > float64(len(serialized))*(1-minCompressionGain) {
		// Not worth it, keep the plain form.
		return env
	}

	payload, err := json.Marshal(encoded)
	if err != nil {
		return Envelope{
			Data:         raw,
			Compressed:   false,
			OriginalSize: len(raw),
			Version:      envelopeVersion,
			Error:        fmt.Sprintf("encoding compressed payload: %v", err),
		}
	}

	env.Data = payload
	env.Compressed = true
	env.CompressedSize = len(encoded)
	env.CompressionRatio = float64(len(serialized)) / float64(len(encoded))
	return env
}

// Decode reverses Encode and returns the canonical JSON form of the
// stored value. It never fails: corrupt or unrecognized payloads come
// back verbatim, and the caller must tolerate semantically wrong data
// rather than crash on it.
func (c *Codec) Decode(env Envelope) json.RawMessage {
	if env.Error != "" {
		// Failure-path envelope: Data is the raw original value.
		return env.Data
	}

	serialized := []byte(env.Data)
	if env.Compressed {
		var encoded string
		if err := json.Unmarshal(env.Data, &encoded); err != nil {
			return env.Data
		}
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return env.Data
		}
		serialized, err = c.comp.Decompress(compressed)
		if err != nil {
			return env.Data
		}
	}

	restored, err := denormalizeSerialized(serialized)
	if err != nil {
		return env.Data
	}
	return restored
}

// IsEnvelope reports whether raw looks like a serialized Envelope.
// Legacy values written before the envelope format (or by the raw
// degradation path) fail this check and are returned as-is by the
// gateway.
func IsEnvelope(raw []byte) bool {
	var probe struct {
		Data       *json.RawMessage `json:"data"`
		Compressed *bool            `json:"compressed"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Data != nil && probe.Compressed != nil
}

// normalizeSerialized round-trips serialized JSON through the lossy
// field-optimization pass.
func normalizeSerialized(raw []byte) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeValue(v))
}

// denormalizeSerialized reverses the field-optimization pass on
// serialized JSON.
func denormalizeSerialized(raw []byte) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(denormalizeValue(v))
}
