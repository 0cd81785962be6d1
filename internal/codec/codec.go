// Package codec turns structured payloads into opaque, transport-safe tokens
// and back: JSON, then zlib, then standard base64.
//
// Tokens are obfuscated, not authenticated. Anyone holding a well-formed
// token can produce another one; integrity belongs in a layer above this one.
package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xiaot623/pmpcs/internal/domain"
)

// MaxPayloadBytes bounds the decompressed size of a token.
const MaxPayloadBytes = 1 << 20

var errNotMap = errors.New("payload is not a map")

// Encode serializes payload, compresses it and returns the base64 token.
func Encode(payload Value) (string, error) {
	if payload.Kind() != KindMap {
		return "", fmt.Errorf("encode: %w (got %s)", errNotMap, payload.Kind())
	}
	raw, err := payload.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode: serialize: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("encode: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode: compress: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Every failure wraps domain.ErrDecode and no
// partially-populated payload is ever returned.
func Decode(token string) (Value, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Value{}, decodeErr("base64", errors.New("empty token"))
	}
	compressed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Value{}, decodeErr("base64", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Value{}, decodeErr("decompress", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxPayloadBytes+1))
	if err != nil {
		return Value{}, decodeErr("decompress", err)
	}
	if len(raw) > MaxPayloadBytes {
		return Value{}, decodeErr("decompress", fmt.Errorf("payload exceeds %d bytes", MaxPayloadBytes))
	}

	payload, err := parseJSON(raw)
	if err != nil {
		return Value{}, decodeErr("deserialize", err)
	}
	if payload.Kind() != KindMap {
		return Value{}, decodeErr("deserialize", fmt.Errorf("%w (got %s)", errNotMap, payload.Kind()))
	}
	return payload, nil
}

func decodeErr(stage string, err error) error {
	return &domain.Error{
		Kind:    domain.KindDecode,
		Op:      "codec.decode",
		Message: stage,
		Err:     err,
	}
}
