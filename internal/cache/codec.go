package cache

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec 标识记录正文的编码方式，写入记录头，修改取值会破坏已有缓存文件的兼容性。
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

// String 返回配置文件中使用的名称。
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec 解析配置中的编码名称，空字符串视为 zstd。
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("unknown disk codec: %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxRecordSize),
	)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// encodePayload 按 codec 编码正文。lz4 无法压缩时退回 CodecNone，返回实际使用的 codec。
func encodePayload(codec Codec, raw []byte) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return raw, CodecNone, nil
	case CodecZstd:
		return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), CodecZstd, nil
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, codec, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			return raw, CodecNone, nil
		}
		return buf[:n], CodecLZ4, nil
	default:
		return nil, codec, fmt.Errorf("unsupported codec %s", codec)
	}
}

// lz4MaxRatio 是 lz4 块格式理论上的最大压缩比。
const lz4MaxRatio = 255

// decodePayload 还原正文。rawSize 来自记录头，已由调用方限制在 MaxRecordSize 内，
// 但仍需与实际编码长度相符才会据此分配内存。
func decodePayload(codec Codec, encoded []byte, rawSize int64) ([]byte, error) {
	switch codec {
	case CodecNone:
		if int64(len(encoded)) != rawSize {
			return nil, fmt.Errorf("payload length %d, header says %d", len(encoded), rawSize)
		}
		return encoded, nil
	case CodecZstd:
		return zstdDecoder.DecodeAll(encoded, nil)
	case CodecLZ4:
		if rawSize > int64(len(encoded))*lz4MaxRatio {
			return nil, fmt.Errorf("lz4 payload of %d bytes cannot expand to %d", len(encoded), rawSize)
		}
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(encoded, raw)
		if err != nil {
			return nil, err
		}
		return raw[:n], nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}
