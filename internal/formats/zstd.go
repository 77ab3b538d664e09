package formats

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"adamantium/pkg/sniff"
)

const (
	zstdMagic          = 0xfd2fb528
	zstdSkippableMask  = 0xfffffff0
	zstdSkippableMagic = 0x184d2a50
)

type zstdFrame struct {
	skippable bool
	magic     uint32
	offset    int64
	size      int64
}

type zstdHandler struct{}

func (zstdHandler) Family() Family { return FamilyArchive }

// zstdFrames splits the file into frames. Compressed frames are sized by
// walking their block headers; nothing is decompressed.
func zstdFrames(r io.ReaderAt, size int64) ([]zstdFrame, error) {
	var frames []zstdFrame
	pos := int64(0)
	for pos < size {
		hdr, err := readAt(r, pos, 4)
		if err != nil {
			return nil, err
		}
		magic := binary.LittleEndian.Uint32(hdr)
		switch {
		case magic&zstdSkippableMask == zstdSkippableMagic:
			n, err := readAt(r, pos+4, 4)
			if err != nil {
				return nil, err
			}
			frame := zstdFrame{skippable: true, magic: magic, offset: pos, size: 8 + int64(binary.LittleEndian.Uint32(n))}
			if pos+frame.size > size {
				return nil, parseErrorf(sniff.KindZstd, "skippable frame overruns file")
			}
			frames = append(frames, frame)
			pos += frame.size
		case magic == zstdMagic:
			n, err := zstdFrameSize(r, pos, size)
			if err != nil {
				return nil, err
			}
			frames = append(frames, zstdFrame{magic: magic, offset: pos, size: n})
			pos += n
		default:
			return nil, parseErrorf(sniff.KindZstd, "unknown frame magic 0x%08x at offset %d", magic, pos)
		}
	}
	return frames, nil
}

func zstdFrameSize(r io.ReaderAt, start, size int64) (int64, error) {
	desc, err := readAt(r, start+4, 1)
	if err != nil {
		return 0, err
	}
	fcsFlag := desc[0] >> 6
	singleSegment := desc[0]&0x20 != 0
	checksum := desc[0]&0x04 != 0
	dictFlag := desc[0] & 0x03

	pos := start + 5
	if !singleSegment {
		pos++
	}
	pos += [4]int64{0, 1, 2, 4}[dictFlag]
	switch fcsFlag {
	case 0:
		if singleSegment {
			pos++
		}
	case 1:
		pos += 2
	case 2:
		pos += 4
	case 3:
		pos += 8
	}

	for {
		bh, err := readAt(r, pos, 3)
		if err != nil {
			return 0, err
		}
		v := uint32(bh[0]) | uint32(bh[1])<<8 | uint32(bh[2])<<16
		last := v&1 != 0
		blockType := (v >> 1) & 0x03
		blockSize := int64(v >> 3)
		pos += 3
		switch blockType {
		case 0, 2:
			pos += blockSize
		case 1:
			pos++
		default:
			return 0, parseErrorf(sniff.KindZstd, "reserved block type at offset %d", pos-3)
		}
		if pos > size {
			return 0, parseErrorf(sniff.KindZstd, "frame overruns file")
		}
		if last {
			break
		}
	}
	if checksum {
		pos += 4
	}
	if pos > size {
		return 0, parseErrorf(sniff.KindZstd, "frame overruns file")
	}
	return pos - start, nil
}

func (zstdHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	frames, err := zstdFrames(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindZstd, "read frames", err)
	}

	var fields []Field
	for _, fr := range frames {
		if !fr.skippable {
			continue
		}
		fields = append(fields, Field{
			Namespace: "Zstd",
			Name:      "SkippableFrame",
			Kind:      ValueBlock,
			Value:     fmt.Sprintf("magic 0x%08x, %d bytes", fr.magic, fr.size-8),
			Offset:    fr.offset,
			Size:      fr.size,
		})
	}
	return NewReport(sniff.KindZstd, fields), nil
}

func (zstdHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	return Plan{Edits: removeEdits(Residual(rep, opts))}, nil
}

// Payload hashes the decompressed content, which also proves every
// compressed frame still decodes.
func (zstdHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	dec, err := zstd.NewReader(io.NewSectionReader(f, 0, size), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return "", wrapParse(sniff.KindZstd, "open decoder", err)
	}
	defer dec.Close()

	h := newDigest()
	if _, err := io.Copy(h, dec); err != nil {
		return "", wrapParse(sniff.KindZstd, "decode", err)
	}
	return sumHex(h), nil
}
