package formats

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"adamantium/pkg/sniff"
)

type flacBlock struct {
	*flac.MetaDataBlock
	last   bool
	offset int64
}

func (b flacBlock) length() int64     { return int64(len(b.Data)) }
func (b flacBlock) size() int64       { return 4 + b.length() }
func (b flacBlock) dataOffset() int64 { return b.offset + 4 }

type flacHandler struct{}

func (flacHandler) Family() Family { return FamilyAudio }

// flacBlocks returns the parsed stream and its metadata blocks with their
// file offsets, plus the offset of the first audio frame.
func flacBlocks(r io.ReaderAt, size int64) (*flac.File, []flacBlock, int64, error) {
	file, err := flac.ParseMetadata(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, nil, 0, err
	}
	if len(file.Meta) == 0 || file.Meta[0].Type != flac.StreamInfo {
		return nil, nil, 0, parseErrorf(sniff.KindFLAC, "first block is not STREAMINFO")
	}

	blocks := make([]flacBlock, 0, len(file.Meta))
	pos := int64(4)
	for i, meta := range file.Meta {
		b := flacBlock{MetaDataBlock: meta, last: i == len(file.Meta)-1, offset: pos}
		blocks = append(blocks, b)
		pos += b.size()
	}
	return file, blocks, pos, nil
}

func (flacHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	file, blocks, _, err := flacBlocks(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindFLAC, "read metadata blocks", err)
	}

	var fields []Field
	for _, b := range blocks {
		switch b.Type {
		case flac.StreamInfo:
			info, err := file.GetStreamInfo()
			if err != nil {
				return Report{}, wrapParse(sniff.KindFLAC, "read STREAMINFO", err)
			}
			fields = append(fields, Field{
				Namespace: "FLAC",
				Name:      "StreamInfo",
				Kind:      ValueBlock,
				Value:     fmt.Sprintf("%d Hz, %d channels", info.SampleRate, info.ChannelCount),
				Offset:    b.offset,
				Size:      b.size(),
				Required:  true,
			})
		case flac.VorbisComment:
			fields = append(fields, vorbisCommentFields(b)...)
		case flac.Picture:
			value := fmt.Sprintf("embedded picture (%d bytes)", b.length())
			if pic, err := flacpicture.ParseFromMetaDataBlock(*b.MetaDataBlock); err == nil {
				value = fmt.Sprintf("%s %dx%d (%d bytes)", pic.MIME, pic.Width, pic.Height, len(pic.ImageData))
				if pic.Description != "" {
					value += ": " + pic.Description
				}
			}
			fields = append(fields, Field{
				Namespace: "FLAC",
				Name:      "Picture",
				Kind:      ValueBlock,
				Value:     value,
				Offset:    b.offset,
				Size:      b.size(),
			})
		case flac.Application:
			id := ""
			if len(b.Data) >= 4 {
				id = string(b.Data[:4])
			}
			fields = append(fields, Field{
				Namespace: "FLAC",
				Name:      "Application",
				Kind:      ValueBlock,
				Value:     id,
				Offset:    b.offset,
				Size:      b.size(),
			})
		}
	}

	return NewReport(sniff.KindFLAC, fields), nil
}

func vorbisCommentFields(b flacBlock) []Field {
	field := func(name, value string) Field {
		return Field{
			Namespace: "Vorbis",
			Name:      name,
			Kind:      ValueString,
			Value:     value,
			Offset:    b.offset,
			Size:      b.size(),
		}
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*b.MetaDataBlock)
	if err != nil {
		return []Field{{
			Namespace: "Vorbis",
			Name:      "Comment",
			Kind:      ValueBlock,
			Offset:    b.offset,
			Size:      b.size(),
		}}
	}
	fields := []Field{field("Vendor", cmt.Vendor)}
	for _, entry := range cmt.Comments {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		fields = append(fields, field(strings.ToUpper(key), value))
	}
	return fields
}

// Plan drops metadata blocks and moves the last-block flag onto the last
// block that survives.
func (flacHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	edits := removeEdits(Residual(rep, opts))
	if len(edits) == 0 {
		return Plan{}, nil
	}

	size, err := fileSize(f)
	if err != nil {
		return Plan{}, err
	}
	_, blocks, _, err := flacBlocks(f, size)
	if err != nil {
		return Plan{}, wrapParse(sniff.KindFLAC, "read metadata blocks", err)
	}

	removed := make(map[int64]bool, len(edits))
	for _, e := range edits {
		removed[e.Offset] = true
	}
	var kept []flacBlock
	for _, b := range blocks {
		if !removed[b.offset] {
			kept = append(kept, b)
		}
	}
	for i, b := range kept {
		wantLast := i == len(kept)-1
		if b.last == wantLast {
			continue
		}
		flag := byte(b.Type)
		if wantLast {
			flag |= 0x80
		}
		edits = append(edits, Overwrite(b.offset, []byte{flag}))
	}

	return Plan{Edits: edits}, nil
}

// Payload hashes STREAMINFO, the seek table and every audio frame.
func (flacHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	_, blocks, audio, err := flacBlocks(f, size)
	if err != nil {
		return "", wrapParse(sniff.KindFLAC, "read metadata blocks", err)
	}

	h := newDigest()
	for _, b := range blocks {
		if b.Type != flac.StreamInfo && b.Type != flac.SeekTable {
			continue
		}
		h.Write(b.Data)
	}
	if _, err := io.Copy(h, io.NewSectionReader(f, audio, size-audio)); err != nil {
		return "", err
	}
	return sumHex(h), nil
}
