package validate

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"portfolio/imagestore/internal/media/sniffer"
)

// DefaultMaxBytes is the upload ceiling used when no policy overrides it.
const DefaultMaxBytes int64 = 10 << 20

// TypeRule binds one accepted content-type to its magic-signature family and
// the filename extensions allowed with it.
type TypeRule struct {
	MIME       string
	Family     sniffer.MediaType
	Extensions []string
}

// Policy is the validation configuration. A Validator keeps its own copy, so a
// Policy value can be reused and mutated by the caller without effect.
type Policy struct {
	MaxBytes int64
	Types    []TypeRule
}

func DefaultPolicy() Policy {
	return Policy{
		MaxBytes: DefaultMaxBytes,
		Types: []TypeRule{
			{MIME: "image/jpeg", Family: sniffer.TypeJPEG, Extensions: []string{"jpg", "jpeg"}},
			{MIME: "image/png", Family: sniffer.TypePNG, Extensions: []string{"png"}},
			{MIME: "image/webp", Family: sniffer.TypeWEBP, Extensions: []string{"webp"}},
		},
	}
}

func (p Policy) clone() Policy {
	out := Policy{MaxBytes: p.MaxBytes, Types: make([]TypeRule, 0, len(p.Types))}
	for _, rule := range p.Types {
		exts := make([]string, 0, len(rule.Extensions))
		for _, ext := range rule.Extensions {
			exts = append(exts, strings.ToLower(strings.TrimPrefix(ext, ".")))
		}
		out.Types = append(out.Types, TypeRule{
			MIME:       sniffer.NormalizeMIME(rule.MIME),
			Family:     rule.Family,
			Extensions: exts,
		})
	}
	return out
}

func (p Policy) rule(mime string) (TypeRule, bool) {
	mime = sniffer.NormalizeMIME(mime)
	for _, rule := range p.Types {
		if rule.MIME == mime {
			return rule, true
		}
	}
	return TypeRule{}, false
}

func (p Policy) AllowedMIMEs() []string {
	out := make([]string, 0, len(p.Types))
	for _, rule := range p.Types {
		out = append(out, rule.MIME)
	}
	sort.Strings(out)
	return out
}

func (p Policy) AllowedExtensions() []string {
	var out []string
	for _, rule := range p.Types {
		out = append(out, rule.Extensions...)
	}
	sort.Strings(out)
	return out
}

// MIMEForExtension returns the content-type a file with ext would have to
// declare to pass validation.
func (p Policy) MIMEForExtension(ext string) (string, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, rule := range p.Types {
		for _, allowed := range rule.Extensions {
			if allowed == ext {
				return rule.MIME, true
			}
		}
	}
	return "", false
}

func (p Policy) MaxBytesHuman() string {
	return humanize.IBytes(uint64(p.MaxBytes))
}
