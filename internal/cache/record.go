package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// recordMagic 标识记录文件格式版本。
var recordMagic = [4]byte{'A', 'C', 'R', '1'}

// maxHeaderSize 限制记录头长度，超出即视为损坏。
const maxHeaderSize = 64 * 1024

// MaxRecordSize 是单条记录正文的上限；记录头声明更大的正文即视为损坏。
const MaxRecordSize = 64 << 20

// entryDomainKey 用于 BLAKE3 keyed hash，保证文件名与其它哈希用途隔离。
var entryDomainKey = [32]byte{
	'a', 'n', 'y', '-', 'c', 'a', 'c', 'h', 'e', '.', 'd', 'i', 's', 'k', '.',
	'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

type recordHeader struct {
	Key         string `cbor:"1,keyasint"`
	ContentType string `cbor:"2,keyasint,omitempty"`
	StoredAt    int64  `cbor:"3,keyasint"`
	Codec       Codec  `cbor:"4,keyasint"`
	RawSize     int64  `cbor:"5,keyasint"`
	Checksum    []byte `cbor:"6,keyasint"`
}

var (
	headerEncMode cbor.EncMode
	headerDecMode cbor.DecMode
)

func init() {
	var err error
	headerEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	headerDecMode, err = cbor.DecOptions{
		MaxNestedLevels:  4,
		MaxMapPairs:      16,
		MaxArrayElements: 16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// entryName 返回 key 的 keyed BLAKE3 十六进制摘要，作为文件名。
func entryName(key string) string {
	hasher, err := blake3.NewKeyed(entryDomainKey[:])
	if err != nil {
		panic("cache: blake3 keyed hasher: " + err.Error())
	}
	_, _ = hasher.WriteString(key)
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

func checksum(raw []byte) []byte {
	sum := blake3.Sum256(raw)
	return sum[:]
}

// encodeRecord 将记录序列化为 magic + 头长度 + CBOR 头 + 编码正文。
func encodeRecord(record Record, codec Codec) ([]byte, error) {
	if len(record.Data) > MaxRecordSize {
		return nil, fmt.Errorf("record %s: %d bytes exceeds limit %d", record.Key, len(record.Data), MaxRecordSize)
	}
	payload, used, err := encodePayload(codec, record.Data)
	if err != nil {
		return nil, err
	}
	header := recordHeader{
		Key:         record.Key,
		ContentType: record.ContentType,
		StoredAt:    record.StoredAt.UnixNano(),
		Codec:       used,
		RawSize:     int64(len(record.Data)),
		Checksum:    checksum(record.Data),
	}
	rawHeader, err := headerEncMode.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode record header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(recordMagic) + 4 + len(rawHeader) + len(payload))
	buf.Write(recordMagic[:])
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(rawHeader)))
	buf.Write(size[:])
	buf.Write(rawHeader)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodeRecord 解析记录文件内容，任何格式问题都返回 ErrCorrupt。
func decodeRecord(data []byte) (*Record, error) {
	if len(data) < len(recordMagic)+4 || !bytes.Equal(data[:len(recordMagic)], recordMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	rest := data[len(recordMagic):]
	headerLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if headerLen > maxHeaderSize || int(headerLen) > len(rest) {
		return nil, fmt.Errorf("%w: bad header length %d", ErrCorrupt, headerLen)
	}

	var header recordHeader
	if err := headerDecMode.Unmarshal(rest[:headerLen], &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if header.RawSize < 0 || header.RawSize > MaxRecordSize {
		return nil, fmt.Errorf("%w: bad raw size %d", ErrCorrupt, header.RawSize)
	}

	raw, err := decodePayload(header.Codec, rest[headerLen:], header.RawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int64(len(raw)) != header.RawSize || !bytes.Equal(checksum(raw), header.Checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	return &Record{
		Key:         header.Key,
		Data:        raw,
		ContentType: header.ContentType,
		StoredAt:    time.Unix(0, header.StoredAt).UTC(),
	}, nil
}
