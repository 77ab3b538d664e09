package formats

const nsICC = "ICC"

// Residual returns the fields of rep that a strip with opts must remove.
// A report with no residual fields is already clean.
func Residual(rep Report, opts Options) []Field {
	var out []Field
	for _, f := range rep.fields {
		if f.Required {
			continue
		}
		if opts.PreserveICC && f.Namespace == nsICC {
			continue
		}
		out = append(out, f)
	}
	return out
}

// removeEdits turns the structures carrying fields into removal edits,
// one per distinct structure.
func removeEdits(fields []Field) []Edit {
	seen := make(map[int64]bool)
	var edits []Edit
	for _, f := range fields {
		if f.Size <= 0 || seen[f.Offset] {
			continue
		}
		seen[f.Offset] = true
		edits = append(edits, Remove(f.Offset, f.Size))
	}
	return edits
}
