package formats

import (
	"os"

	"adamantium/pkg/sniff"
)

// tiffHandler only reports. Image data and metadata share the IFD chain,
// so removing tags means rewriting every strip offset.
type tiffHandler struct{}

func (tiffHandler) Family() Family { return FamilyImage }

func (tiffHandler) Extract(f *os.File) (Report, error) {
	fields, err := exifFieldsFromReader(f)
	if err != nil {
		return Report{}, wrapParse(sniff.KindTIFF, "read IFDs", err)
	}
	return NewReport(sniff.KindTIFF, fields), nil
}

func (tiffHandler) Plan(*os.File, Report, Options) (Plan, error) {
	return Plan{}, ErrNotStrippable
}
