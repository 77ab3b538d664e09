package formats

import (
	"io"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

const nsEXIF = "EXIF"

// exifFields lists the tags of a TIFF-structured EXIF block. The fields
// are located at the enclosing structure (offset, size) since that is what
// gets removed. A block go-exif cannot parse is still reported as a whole.
func exifFields(tiff []byte, offset, size int64) []Field {
	tags, _, err := exif.GetFlatExifData(tiff, nil)
	if err != nil {
		return []Field{{
			Namespace: nsEXIF,
			Name:      "Exif",
			Kind:      ValueBlock,
			Value:     "unparsed EXIF block",
			Offset:    offset,
			Size:      size,
		}}
	}
	return tagsToFields(tags, offset, size)
}

// exifFieldsFromReader searches rs for EXIF data anywhere in the stream.
func exifFieldsFromReader(rs io.ReadSeeker) ([]Field, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if errorsIsNoExif(err) {
			return nil, nil
		}
		return nil, err
	}
	return tagsToFields(tags, 0, 0), nil
}

func tagsToFields(tags []exif.ExifTag, offset, size int64) []Field {
	fields := make([]Field, 0, len(tags))
	for _, tag := range tags {
		name := tag.TagName
		if name == "" {
			continue
		}
		value := tag.Formatted
		if value == "" {
			value = tag.FormattedFirst
		}
		fields = append(fields, Field{
			Namespace: nsEXIF,
			Name:      name,
			Kind:      ValueString,
			Value:     value,
			Offset:    offset,
			Size:      size,
		})
	}
	if len(fields) == 0 {
		fields = append(fields, Field{
			Namespace: nsEXIF,
			Name:      "Exif",
			Kind:      ValueBlock,
			Offset:    offset,
			Size:      size,
		})
	}
	return fields
}

func errorsIsNoExif(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}
