package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bogem/id3v2/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"adamantium/pkg/sniff"
)

const (
	id3v1Size     = 128
	apeFooterSize = 32
	maxID3Tag     = 16 << 20
)

type byteRange struct {
	offset int64
	size   int64
}

// mp3Layout locates the tags wrapped around the MPEG audio frames.
type mp3Layout struct {
	id3v2 []byteRange
	ape   *byteRange
	id3v1 *byteRange
	audio byteRange
}

func synchsafe(b []byte) int64 {
	return int64(b[0]&0x7f)<<21 | int64(b[1]&0x7f)<<14 | int64(b[2]&0x7f)<<7 | int64(b[3]&0x7f)
}

func readMP3Layout(r io.ReaderAt, size int64) (mp3Layout, error) {
	var layout mp3Layout

	pos := int64(0)
	for pos+10 <= size {
		hdr, err := readAt(r, pos, 10)
		if err != nil {
			return layout, err
		}
		if string(hdr[:3]) != "ID3" {
			break
		}
		if hdr[3] < 2 || hdr[3] > 4 {
			return layout, parseErrorf(sniff.KindMP3, "unsupported ID3v2.%d tag", hdr[3])
		}
		tagSize := 10 + synchsafe(hdr[6:10])
		if hdr[5]&0x10 != 0 {
			tagSize += 10
		}
		if pos+tagSize > size {
			return layout, parseErrorf(sniff.KindMP3, "ID3v2 tag overruns file")
		}
		layout.id3v2 = append(layout.id3v2, byteRange{offset: pos, size: tagSize})
		pos += tagSize
	}

	end := size
	if end-id3v1Size >= pos {
		tail, err := readAt(r, end-id3v1Size, 3)
		if err != nil {
			return layout, err
		}
		if string(tail) == "TAG" {
			layout.id3v1 = &byteRange{offset: end - id3v1Size, size: id3v1Size}
			end -= id3v1Size
		}
	}

	if end-apeFooterSize >= pos {
		footer, err := readAt(r, end-apeFooterSize, apeFooterSize)
		if err != nil {
			return layout, err
		}
		if string(footer[:8]) == "APETAGEX" {
			apeSize := int64(binary.LittleEndian.Uint32(footer[12:16]))
			flags := binary.LittleEndian.Uint32(footer[20:24])
			if flags&(1<<31) != 0 {
				apeSize += apeFooterSize
			}
			if apeSize < apeFooterSize || end-apeSize < pos {
				return layout, parseErrorf(sniff.KindMP3, "APEv2 tag overruns file")
			}
			layout.ape = &byteRange{offset: end - apeSize, size: apeSize}
			end -= apeSize
		}
	}

	layout.audio = byteRange{offset: pos, size: end - pos}
	return layout, nil
}

type mp3Handler struct{}

func (mp3Handler) Family() Family { return FamilyAudio }

func (mp3Handler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	layout, err := readMP3Layout(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindMP3, "read tags", err)
	}

	var fields []Field
	for _, tag := range layout.id3v2 {
		tagFields, err := id3v2TagFields(f, tag)
		if err != nil {
			return Report{}, wrapParse(sniff.KindMP3, "read ID3v2", err)
		}
		fields = append(fields, tagFields...)
	}
	if layout.ape != nil {
		fields = append(fields, Field{
			Namespace: "APEv2",
			Name:      "Tag",
			Kind:      ValueBlock,
			Offset:    layout.ape.offset,
			Size:      layout.ape.size,
		})
	}
	if layout.id3v1 != nil {
		data, err := readAt(f, layout.id3v1.offset, id3v1Size)
		if err != nil {
			return Report{}, wrapParse(sniff.KindMP3, "read ID3v1", err)
		}
		fields = append(fields, id3v1Fields(data, *layout.id3v1)...)
	}

	return NewReport(sniff.KindMP3, fields), nil
}

// id3v2TagFields decodes one ID3v2 tag. v2.3 and v2.4 tags go through the
// id3v2 parser. v2.2 and unsynchronised tags, which it cannot read, are
// walked frame by frame here.
func id3v2TagFields(r io.ReaderAt, rng byteRange) ([]Field, error) {
	n := rng.size
	if n > maxID3Tag {
		n = maxID3Tag
	}
	data, err := readAt(r, rng.offset, int(n))
	if err != nil {
		return nil, err
	}

	if data[3] >= 3 && data[5]&0x80 == 0 && n == rng.size {
		tag, err := id3v2.ParseReader(bytes.NewReader(data), id3v2.Options{Parse: true})
		if err == nil {
			if fields := id3v2FrameFields(tag, rng); len(fields) > 0 {
				return fields, nil
			}
		}
	}
	return id3v2Fields(data, rng), nil
}

// id3v2FrameFields turns parsed frames into fields, ordered by frame ID.
func id3v2FrameFields(tag *id3v2.Tag, rng byteRange) []Field {
	frames := tag.AllFrames()
	ids := make([]string, 0, len(frames))
	for id := range frames {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fields []Field
	for _, id := range ids {
		for _, frame := range frames[id] {
			field := Field{
				Namespace: "ID3v2",
				Name:      id,
				Kind:      ValueBinary,
				Offset:    rng.offset,
				Size:      rng.size,
			}
			switch fr := frame.(type) {
			case id3v2.TextFrame:
				field.Kind = ValueString
				field.Value = strings.TrimRight(strings.ReplaceAll(fr.Text, "\x00", " / "), " /")
			case id3v2.UserDefinedTextFrame:
				field.Name = id + ":" + fr.Description
				field.Kind = ValueString
				field.Value = fr.Value
			case id3v2.CommentFrame:
				field.Kind = ValueString
				field.Value = fr.Text
			case id3v2.UnsynchronisedLyricsFrame:
				field.Kind = ValueString
				field.Value = fr.Lyrics
			case id3v2.PictureFrame:
				field.Kind = ValueBlock
				field.Value = fmt.Sprintf("%s picture (%d bytes)", fr.MimeType, len(fr.Picture))
			case id3v2.UnknownFrame:
				if strings.HasPrefix(id, "W") {
					field.Kind = ValueString
					field.Value = strings.TrimRight(string(fr.Body), "\x00")
				}
			}
			fields = append(fields, field)
		}
	}
	return fields
}

func id3v2Fields(tag []byte, rng byteRange) []Field {
	version := tag[3]
	flags := tag[5]
	body := tag[10:]
	if int64(len(body)) > rng.size-10 {
		body = body[:rng.size-10]
	}
	if flags&0x10 != 0 && len(body) >= 10 {
		body = body[:len(body)-10]
	}

	whole := []Field{{
		Namespace: "ID3v2",
		Name:      fmt.Sprintf("Tag (v2.%d)", version),
		Kind:      ValueBlock,
		Offset:    rng.offset,
		Size:      rng.size,
	}}
	if flags&0x80 != 0 {
		// unsynchronised tags are reported as a whole
		return whole
	}

	if flags&0x40 != 0 && version >= 3 && len(body) >= 4 {
		ext := int64(binary.BigEndian.Uint32(body[:4]))
		if version == 4 {
			ext = synchsafe(body[:4])
		} else {
			ext += 4
		}
		if ext > int64(len(body)) {
			return whole
		}
		body = body[ext:]
	}

	idLen, hdrLen := 4, 10
	if version == 2 {
		idLen, hdrLen = 3, 6
	}

	var fields []Field
	for len(body) >= hdrLen {
		id := string(body[:idLen])
		if body[0] == 0 {
			break // padding
		}
		var frameSize int64
		switch version {
		case 2:
			frameSize = int64(body[3])<<16 | int64(body[4])<<8 | int64(body[5])
		case 3:
			frameSize = int64(binary.BigEndian.Uint32(body[4:8]))
		default:
			frameSize = synchsafe(body[4:8])
		}
		if frameSize < 0 || int64(hdrLen)+frameSize > int64(len(body)) {
			break
		}
		data := body[hdrLen : int64(hdrLen)+frameSize]
		fields = append(fields, id3FrameField(id, data, rng))
		body = body[int64(hdrLen)+frameSize:]
	}

	if len(fields) == 0 {
		return whole
	}
	return fields
}

func id3FrameField(id string, data []byte, rng byteRange) Field {
	field := Field{
		Namespace: "ID3v2",
		Name:      id,
		Kind:      ValueBinary,
		Offset:    rng.offset,
		Size:      rng.size,
	}

	switch {
	case id == "TXXX" || id == "TXX":
		if len(data) > 0 {
			desc, value := splitID3Text(data[0], data[1:])
			field.Name = id + ":" + desc
			field.Kind = ValueString
			field.Value = value
		}
	case strings.HasPrefix(id, "T"):
		if len(data) > 0 {
			field.Kind = ValueString
			field.Value = decodeID3Text(data[0], data[1:])
		}
	case id == "COMM" || id == "COM" || id == "USLT" || id == "ULT":
		if len(data) > 4 {
			_, value := splitID3Text(data[0], data[4:])
			field.Kind = ValueString
			field.Value = value
		}
	case id == "APIC" || id == "PIC":
		field.Kind = ValueBlock
		field.Value = fmt.Sprintf("embedded picture (%d bytes)", len(data))
	case strings.HasPrefix(id, "W"):
		field.Kind = ValueString
		field.Value = strings.TrimRight(string(data), "\x00")
	}
	return field
}

func id3Decoder(enc byte) *encoding.Decoder {
	switch enc {
	case 1:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case 2:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	case 3:
		return nil
	default:
		return charmap.ISO8859_1.NewDecoder()
	}
}

func decodeID3Text(enc byte, data []byte) string {
	dec := id3Decoder(enc)
	out := data
	if dec != nil {
		decoded, err := dec.Bytes(data)
		if err == nil {
			out = decoded
		}
	}
	return strings.TrimRight(strings.ReplaceAll(string(out), "\x00", " / "), " /")
}

// splitID3Text splits a "description NUL value" pair, honoring the
// two-byte terminator of UTF-16 encodings.
func splitID3Text(enc byte, data []byte) (string, string) {
	if enc == 1 || enc == 2 {
		for i := 0; i+1 < len(data); i += 2 {
			if data[i] == 0 && data[i+1] == 0 {
				return decodeID3Text(enc, data[:i]), decodeID3Text(enc, data[i+2:])
			}
		}
		return "", decodeID3Text(enc, data)
	}
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", decodeID3Text(enc, data)
	}
	return decodeID3Text(enc, data[:idx]), decodeID3Text(enc, data[idx+1:])
}

func id3v1Fields(data []byte, rng byteRange) []Field {
	latin := func(b []byte) string {
		s := decodeID3Text(0, bytes.TrimRight(b, "\x00 "))
		return strings.TrimSpace(s)
	}
	var fields []Field
	add := func(name, value string) {
		if value == "" {
			return
		}
		fields = append(fields, Field{
			Namespace: "ID3v1",
			Name:      name,
			Kind:      ValueString,
			Value:     value,
			Offset:    rng.offset,
			Size:      rng.size,
		})
	}
	add("Title", latin(data[3:33]))
	add("Artist", latin(data[33:63]))
	add("Album", latin(data[63:93]))
	add("Year", latin(data[93:97]))
	add("Comment", latin(data[97:127]))
	if len(fields) == 0 {
		add("Tag", "empty ID3v1 tag")
	}
	return fields
}

func (mp3Handler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	return Plan{Edits: removeEdits(Residual(rep, opts))}, nil
}

// Payload hashes the MPEG frames between the leading and trailing tags.
func (mp3Handler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	layout, err := readMP3Layout(f, size)
	if err != nil {
		return "", wrapParse(sniff.KindMP3, "read tags", err)
	}
	h := newDigest()
	if _, err := io.Copy(h, io.NewSectionReader(f, layout.audio.offset, layout.audio.size)); err != nil {
		return "", err
	}
	return sumHex(h), nil
}
