package naming

import "strings"

// DerivativeName is the single rule mapping a stored name and a size name to
// the resized copy's filename: <basename>_<size>.<ext>. Writing, deleting and
// resolving derivatives all go through it.
func DerivativeName(stored, spec string) string {
	base, ext := splitExt(stored)
	name := base + "_" + strings.ToLower(spec)
	if ext != "" {
		name += "." + ext
	}
	return name
}

// SplitDerivativeName inverts DerivativeName for the given size names.
func SplitDerivativeName(derived string, specs []string) (stored, spec string, ok bool) {
	base, ext := splitExt(derived)
	for _, candidate := range specs {
		suffix := "_" + strings.ToLower(candidate)
		if !strings.HasSuffix(base, suffix) || len(base) == len(suffix) {
			continue
		}
		stored = strings.TrimSuffix(base, suffix)
		if ext != "" {
			stored += "." + ext
		}
		return stored, candidate, true
	}
	return "", "", false
}

func splitExt(name string) (base, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
