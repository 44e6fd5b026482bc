package session

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorrupt: запись не декодируется, её надо выкинуть.
var ErrCorrupt = errors.New("session: corrupt record")

// Формат записи: 1 байт маркера + cbor, сжатый zstd если payload большой.
const (
	markerRaw  byte = 'R'
	markerZstd byte = 'Z'

	compressThreshold = 1024
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	if encMode, err = opts.EncMode(); err != nil {
		panic("session: cbor encoder: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("session: cbor decoder: " + err.Error())
	}
	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
		panic("session: zstd encoder: " + err.Error())
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic("session: zstd decoder: " + err.Error())
	}
}

// Encode сериализует сессию. Вложения черновика лежат тут же, поэтому сжимаем.
func Encode(s *Session) ([]byte, error) {
	payload, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if len(payload) >= compressThreshold {
		compressed := zstdEncoder.EncodeAll(payload, make([]byte, 1, len(payload)/2+1))
		compressed[0] = markerZstd
		if len(compressed) < len(payload)+1 {
			return compressed, nil
		}
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, markerRaw)
	return append(out, payload...), nil
}

func Decode(raw []byte) (*Session, error) {
	if len(raw) < 2 {
		return nil, ErrCorrupt
	}
	payload := raw[1:]
	switch raw[0] {
	case markerRaw:
	case markerZstd:
		var err error
		if payload, err = zstdDecoder.DecodeAll(payload, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	default:
		return nil, ErrCorrupt
	}
	var s Session
	if err := decMode.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Scene == "" {
		return nil, ErrCorrupt
	}
	return &s, nil
}
