package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/blakesmith/ar"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/sassoftware/relic/v7/lib/comdoc"
)

const testXMP = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>` +
	`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
	`<rdf:Description rdf:about="" xmlns:xmp="http://ns.adobe.com/xap/1.0/" xmp:CreatorTool="TestSuite 1.0">` +
	`<dc:creator xmlns:dc="http://purl.org/dc/elements/1.1/"><rdf:Seq><rdf:li>Jane Roe</rdf:li></rdf:Seq></dc:creator>` +
	`</rdf:Description></rdf:RDF></x:xmpmeta><?xpacket end="w"?>`

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// buildExifTIFF returns a little-endian TIFF block with a camera model and
// a GPS IFD carrying latitude.
func buildExifTIFF() []byte {
	var tiff bytes.Buffer
	le := func(v interface{}) { _ = binary.Write(&tiff, binary.LittleEndian, v) }

	tiff.Write([]byte{0x49, 0x49, 0x2a, 0x00})
	le(uint32(8))

	// IFD0 at 8: Model, GPSInfo
	le(uint16(2))
	le(uint16(0x0110))
	le(uint16(2))
	le(uint32(8))
	le(uint32(38))
	le(uint16(0x8825))
	le(uint16(4))
	le(uint32(1))
	le(uint32(46))
	le(uint32(0))

	// 38
	tiff.Write([]byte("TestCam\x00"))

	// GPS IFD at 46: GPSLatitudeRef, GPSLatitude
	le(uint16(2))
	le(uint16(0x0001))
	le(uint16(2))
	le(uint32(2))
	tiff.Write([]byte{'N', 0, 0, 0})
	le(uint16(0x0002))
	le(uint16(5))
	le(uint32(3))
	le(uint32(76))
	le(uint32(0))

	// 76
	for _, r := range [][2]uint32{{48, 1}, {51, 1}, {2994, 100}} {
		le(r[0])
		le(r[1])
	}
	return tiff.Bytes()
}

func segmentBytes(marker byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, marker})
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(payload)+2))
	buf.Write(payload)
	return buf.Bytes()
}

func buildJPEG() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})
	buf.Write(segmentBytes(0xe0, []byte("JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")))
	buf.Write(segmentBytes(0xe1, append([]byte("Exif\x00\x00"), buildExifTIFF()...)))
	buf.Write(segmentBytes(0xe1, append(append([]byte{}, jpegXmpHeader...), testXMP...)))
	buf.Write(segmentBytes(0xe2, append(append([]byte{}, jpegICCHeader...), 1, 1, 0, 0, 0, 0)))
	buf.Write(segmentBytes(0xfe, []byte("shot on holiday")))
	buf.Write(segmentBytes(0xdb, bytes.Repeat([]byte{1}, 65)))
	buf.Write(segmentBytes(0xda, []byte{1, 1, 0, 0, 0x3f, 0}))
	buf.Write([]byte{0x12, 0x34, 0x56, 0x78})
	buf.Write([]byte{0xff, 0xd9})
	return buf.Bytes()
}

func buildPNGChunk(chunkType string, data []byte) []byte {
	chunkTypeBytes := []byte(chunkType)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc32.ChecksumIEEE(append(chunkTypeBytes, data...)))

	chunk := make([]byte, 0, 12+len(data))
	chunk = append(chunk, lenBuf...)
	chunk = append(chunk, chunkTypeBytes...)
	chunk = append(chunk, data...)
	chunk = append(chunk, crcBuf...)
	return chunk
}

func buildPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode PNG: %v", err)
	}
	data := buf.Bytes()

	itxt := append([]byte("XML:com.adobe.xmp\x00\x00\x00\x00\x00"), testXMP...)
	iccp := append([]byte("sRGB\x00\x00"), 0x78, 0x9c, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01)

	// chunks go after IHDR (8 byte signature + 25 byte IHDR)
	insertAt := 33
	out := append([]byte{}, data[:insertAt]...)
	out = append(out, buildPNGChunk("iCCP", iccp)...)
	out = append(out, buildPNGChunk("tEXt", []byte("Author\x00Jane Roe"))...)
	out = append(out, buildPNGChunk("tIME", []byte{0x07, 0xe8, 0x01, 0x02, 0x03, 0x04, 0x05})...)
	out = append(out, buildPNGChunk("eXIf", buildExifTIFF())...)
	out = append(out, buildPNGChunk("iTXt", itxt)...)
	out = append(out, data[insertAt:]...)
	return out
}

func riffChunkBytes(fourcc string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(fourcc)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func buildWebP() []byte {
	vp8x := []byte{vp8xFlagEXIF | vp8xFlagXMP, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	var body bytes.Buffer
	body.WriteString("WEBP")
	body.Write(riffChunkBytes("VP8X", vp8x))
	body.Write(riffChunkBytes("VP8L", []byte{0x2f, 0, 0, 0, 0x10, 0x07, 0x10, 0x11, 0x11}))
	body.Write(riffChunkBytes("EXIF", append([]byte("Exif\x00\x00"), buildExifTIFF()...)))
	body.Write(riffChunkBytes("XMP ", []byte(testXMP)))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func id3Frame(id string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(id)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	buf.Write([]byte{0, 0})
	buf.Write(data)
	return buf.Bytes()
}

func synchsafeBytes(n int) []byte {
	return []byte{byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f)}
}

func buildMP3() []byte {
	// "Artist" as UTF-16 with a little-endian BOM
	artist := []byte{1, 0xff, 0xfe, 'S', 0, 'o', 0, 'm', 0, 'e', 0, 'o', 0, 'n', 0, 'e', 0}

	var frames bytes.Buffer
	frames.Write(id3Frame("TIT2", append([]byte{0}, "Song"...)))
	frames.Write(id3Frame("TPE1", artist))
	frames.Write(id3Frame("COMM", append([]byte{0, 'e', 'n', 'g', 0}, "recorded at home"...)))
	frames.Write(make([]byte, 16))

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'D', '3', 3, 0, 0})
	buf.Write(synchsafeBytes(frames.Len()))
	buf.Write(frames.Bytes())
	for i := 0; i < 4; i++ {
		buf.Write([]byte{0xff, 0xfb, 0x90, 0x00})
		buf.Write(bytes.Repeat([]byte{byte(i)}, 60))
	}

	v1 := make([]byte, id3v1Size)
	copy(v1, "TAG")
	copy(v1[3:], "Song")
	copy(v1[33:], "Someone")
	copy(v1[93:], "2024")
	buf.Write(v1)
	return buf.Bytes()
}

func buildFLAC() []byte {
	streamInfo := make([]byte, 34)
	streamInfo[10], streamInfo[11], streamInfo[12] = 0x0a, 0xc4, 0x42

	cmt := &flacvorbis.MetaDataBlockVorbisComment{Vendor: "reference libFLAC 1.4.3"}
	_ = cmt.Add("ARTIST", "Someone")
	_ = cmt.Add("title", "Song")
	vorbis := cmt.Marshal()

	pic := &flacpicture.MetadataBlockPicture{
		PictureType: flacpicture.PictureTypeFrontCover,
		MIME:        "image/png",
		Description: "cover",
		Width:       1,
		Height:      1,
		ColorDepth:  24,
		ImageData:   bytes.Repeat([]byte{0xaa}, 40),
	}
	picture := pic.Marshal()

	file := &flac.File{
		Meta: []*flac.MetaDataBlock{
			{Type: flac.StreamInfo, Data: streamInfo},
			&vorbis,
			&picture,
		},
		Frames: append([]byte{0xff, 0xf8, 0x69, 0x08}, bytes.Repeat([]byte{0x55}, 64)...),
	}
	return file.Marshal()
}

func mp4BoxBytes(typ string, children ...[]byte) []byte {
	body := bytes.Join(children, nil)
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(8+len(body)))
	buf.WriteString(typ)
	buf.Write(body)
	return buf.Bytes()
}

func buildMP4() []byte {
	return bytes.Join([][]byte{
		mp4BoxBytes("ftyp", []byte("isom\x00\x00\x02\x00isomiso2mp41")),
		mp4BoxBytes("moov",
			mp4BoxBytes("mvhd", make([]byte, 100)),
			mp4BoxBytes("trak",
				mp4BoxBytes("tkhd", make([]byte, 84)),
				mp4BoxBytes("udta", mp4BoxBytes("name", []byte("track one"))),
			),
			mp4BoxBytes("udta", mp4BoxBytes("\xa9xyz", []byte("+48.8584+002.2945/"))),
		),
		mp4BoxBytes("mdat", bytes.Repeat([]byte{0x42}, 128)),
	}, nil)
}

type zipEntry struct {
	name     string
	body     string
	modified time.Time
	method   uint16
	comment  string
}

func buildZip(t *testing.T, comment string, entries []zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: e.method, Modified: e.modified, Comment: e.comment}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if comment != "" {
		if err := zw.SetComment(comment); err != nil {
			t.Fatalf("set comment: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func buildDOCX(t *testing.T) []byte {
	core := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/">` +
		`<dc:creator>Jane Roe</dc:creator><cp:lastModifiedBy>John Doe</cp:lastModifiedBy>` +
		`<dcterms:created>2024-01-02T03:04:05Z</dcterms:created></cp:coreProperties>`
	app := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties">` +
		`<Company>Acme Corp</Company><Application>Microsoft Office Word</Application></Properties>`

	when := time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)
	return buildZip(t, "", []zipEntry{
		{name: "[Content_Types].xml", body: `<Types/>`, method: zip.Deflate},
		{name: "docProps/core.xml", body: core, method: zip.Deflate, modified: when},
		{name: "docProps/app.xml", body: app, method: zip.Deflate},
		{name: "word/document.xml", body: `<w:document>hello</w:document>`, method: zip.Deflate, modified: when},
	})
}

func buildODT(t *testing.T) []byte {
	meta := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<office:document-meta xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" ` +
		`xmlns:meta="urn:oasis:names:tc:opendocument:xmlns:meta:1.0"><office:meta>` +
		`<meta:initial-creator>Jane Roe</meta:initial-creator>` +
		`<meta:user-defined meta:name="Project">Apollo</meta:user-defined>` +
		`</office:meta></office:document-meta>`
	return buildZip(t, "", []zipEntry{
		{name: "mimetype", body: "application/vnd.oasis.opendocument.text", method: zip.Store},
		{name: "content.xml", body: `<office:document-content/>`, method: zip.Deflate},
		{name: "meta.xml", body: meta, method: zip.Deflate},
	})
}

func buildGzip(t *testing.T, content string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = "holiday-plans.txt"
	zw.Comment = "written on the train"
	zw.ModTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func buildAr(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatalf("ar header: %v", err)
	}
	members := []struct {
		name string
		body string
	}{
		{"debian-binary", "2.0\n"},
		{"control.tar", "hello"},
	}
	for _, m := range members {
		hdr := &ar.Header{
			Name:    m.name,
			ModTime: time.Unix(1700000000, 0),
			Uid:     1000,
			Gid:     1000,
			Mode:    0o644,
			Size:    int64(len(m.body)),
		}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatalf("ar member header: %v", err)
		}
		if _, err := w.Write([]byte(m.body)); err != nil {
			t.Fatalf("ar member body: %v", err)
		}
	}
	return buf.Bytes()
}

func buildZstd(t *testing.T, content string) []byte {
	t.Helper()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd encoder: %v", err)
	}
	defer enc.Close()

	var buf bytes.Buffer
	skippable := []byte("build host: ci-runner-7")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(zstdSkippableMagic))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(skippable)))
	buf.Write(skippable)
	buf.Write(enc.EncodeAll([]byte(content), nil))
	return buf.Bytes()
}

// buildXZ returns an empty xz stream with CRC64 checks.
func buildXZ() []byte {
	var buf bytes.Buffer
	flags := []byte{0x00, 0x04}
	buf.Write([]byte{0xfd, '7', 'z', 'X', 'Z', 0x00})
	buf.Write(flags)
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(flags))

	index := []byte{0x00, 0x00, 0x00, 0x00}
	buf.Write(index)
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(index))

	footer := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x04}
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(footer))
	buf.Write(footer)
	buf.WriteString("YZ")
	return buf.Bytes()
}

// buildPDF assembles a one page document with an information dictionary
// and a correct cross-reference table.
func buildPDF(withXMP bool) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
		"<< /Author (Jane Roe) /Producer <FEFF00410042> /CreationDate (D:20240102030405Z) /Title (Notes \\(draft\\)) >>",
	}
	if withXMP {
		objects[0] = "<< /Type /Catalog /Pages 2 0 R /Metadata 5 0 R >>"
		objects = append(objects, fmt.Sprintf("<< /Type /Metadata /Subtype /XML /Length %d >>\nstream\n%s\nendstream", len(testXMP), testXMP))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// buildSummaryStream returns a SummaryInformation property stream with a
// codepage and an LPSTR author.
func buildSummaryStream(author string) []byte {
	le32 := func(b *bytes.Buffer, v uint32) { _ = binary.Write(b, binary.LittleEndian, v) }

	value := author + "\x00"
	var props bytes.Buffer
	le32(&props, 2) // VT_I2 codepage
	props.Write([]byte{0xe4, 0x04, 0, 0})
	le32(&props, 0x1e)
	le32(&props, uint32(len(value)))
	props.WriteString(value)

	var set bytes.Buffer
	le32(&set, uint32(8+16+props.Len()))
	le32(&set, 2)
	le32(&set, 1)
	le32(&set, 24)
	le32(&set, 4)
	le32(&set, 32)
	set.Write(props.Bytes())

	var stream bytes.Buffer
	stream.Write([]byte{0xfe, 0xff, 0, 0})
	le32(&stream, 0)
	stream.Write(make([]byte, 16))
	le32(&stream, 1)
	stream.Write(make([]byte, 16))
	le32(&stream, 48)
	stream.Write(set.Bytes())
	return stream.Bytes()
}

type oleStream struct {
	name string
	data []byte
}

// buildCompoundDoc lays out a version 3 compound document with 512 byte
// sectors: the SAT in sector 0, the directory in 1, an empty short SAT in
// 2 and one sector per stream after that. The short stream cutoff is zero
// so every stream lives in regular sectors.
func buildCompoundDoc(t *testing.T, streams []oleStream) []byte {
	t.Helper()

	const sectorSize = 512
	if len(streams) > 3 {
		t.Fatalf("at most 3 streams fit the directory sector")
	}

	hdr := comdoc.Header{
		Revision:         0x3e,
		Version:          3,
		ByteOrder:        0xfffe,
		SectorSize:       9,
		ShortSectorSize:  6,
		SATSectors:       1,
		DirNextSector:    1,
		SSATNextSector:   2,
		SSATSectorCount:  1,
		MSATNextSector:   comdoc.SecIDEndOfChain,
		MinStdStreamSize: 0,
	}
	copy(hdr.Magic[:], []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1})
	for i := range hdr.MSAT {
		hdr.MSAT[i] = comdoc.SecIDFree
	}
	hdr.MSAT[0] = 0

	sat := make([]comdoc.SecID, sectorSize/4)
	for i := range sat {
		sat[i] = comdoc.SecIDFree
	}
	sat[0] = comdoc.SecIDSAT
	sat[1] = comdoc.SecIDEndOfChain
	sat[2] = comdoc.SecIDEndOfChain

	entry := func(name string, typ comdoc.DirType) comdoc.RawDirEnt {
		e := comdoc.RawDirEnt{Type: typ, Color: comdoc.Black, LeftChild: -1, RightChild: -1, StorageRoot: -1}
		runes := utf16.Encode([]rune(name))
		copy(e.NameRunes[:], runes)
		e.NameLength = uint16(2 * (len(runes) + 1))
		return e
	}
	dir := make([]comdoc.RawDirEnt, sectorSize/128)
	dir[0] = entry("Root Entry", comdoc.DirRoot)
	dir[0].NextSector = comdoc.SecIDEndOfChain
	dir[0].StorageRoot = 1
	for i := len(streams) + 1; i < len(dir); i++ {
		dir[i] = comdoc.RawDirEnt{LeftChild: -1, RightChild: -1, StorageRoot: -1}
	}

	var data bytes.Buffer
	for i, s := range streams {
		if len(s.data) > sectorSize {
			t.Fatalf("stream %q does not fit one sector", s.name)
		}
		sector := 3 + i
		sat[sector] = comdoc.SecIDEndOfChain
		e := entry(s.name, comdoc.DirStream)
		e.NextSector = comdoc.SecID(sector)
		e.StreamSize = uint32(len(s.data))
		if i+1 < len(streams) {
			// a right leaning chain is a valid, if unbalanced, tree
			e.RightChild = int32(i + 2)
		}
		dir[i+1] = e

		padded := make([]byte, sectorSize)
		copy(padded, s.data)
		data.Write(padded)
	}

	ssat := make([]comdoc.SecID, sectorSize/4)
	for i := range ssat {
		ssat[i] = comdoc.SecIDFree
	}

	var buf bytes.Buffer
	for _, v := range []interface{}{hdr, sat, dir, ssat} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("encode compound document: %v", err)
		}
	}
	buf.Write(data.Bytes())
	return buf.Bytes()
}
