package formats

import (
	"io"
	"os"

	"github.com/cavaliergopher/rpm"

	"adamantium/pkg/sniff"
)

// rpmHandler only reports. The header is covered by the package signature
// and digests, so any edit breaks verification by rpm itself.
type rpmHandler struct{}

func (rpmHandler) Family() Family { return FamilyArchive }

func (rpmHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	pkg, err := rpm.Read(io.NewSectionReader(f, 0, size))
	if err != nil {
		return Report{}, wrapParse(sniff.KindRPM, "read header", err)
	}

	var fields []Field
	add := func(name, value string) {
		if value == "" {
			return
		}
		fields = append(fields, Field{
			Namespace: "RPM",
			Name:      name,
			Kind:      ValueString,
			Value:     value,
		})
	}
	add("BuildHost", pkg.BuildHost())
	if t := pkg.BuildTime(); !t.IsZero() && t.Unix() != 0 {
		add("BuildTime", t.UTC().Format("2006-01-02 15:04:05"))
	}
	add("Packager", pkg.Packager())
	add("Vendor", pkg.Vendor())
	add("Distribution", pkg.Distribution())
	add("SourceRPM", pkg.SourceRPM())

	return NewReport(sniff.KindRPM, fields), nil
}

func (rpmHandler) Plan(*os.File, Report, Options) (Plan, error) {
	return Plan{}, ErrNotStrippable
}
