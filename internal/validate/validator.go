package validate

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"portfolio/imagestore/internal/media/sniffer"
)

type Kind string

const (
	KindEmpty             Kind = "empty"
	KindTooLarge          Kind = "too_large"
	KindUnsupportedType   Kind = "unsupported_type"
	KindInvalidExtension  Kind = "invalid_extension"
	KindSignatureMismatch Kind = "signature_mismatch"
)

// ValidationError is a user-correctable rejection. Nothing has been written
// when one is returned.
type ValidationError struct {
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func reject(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// UploadCandidate is an upload as the caller declared it. Size is the declared
// length and may be zero when unknown.
type UploadCandidate struct {
	Body        io.Reader
	ContentType string
	Filename    string
	Size        int64
}

// Validated is an upload that passed every check, with its payload in memory.
type Validated struct {
	Data      []byte
	MIME      string
	Family    sniffer.MediaType
	Extension string
	Filename  string
}

type Validator struct {
	policy Policy
}

func New(policy Policy) *Validator {
	return &Validator{policy: policy.clone()}
}

func (v *Validator) Policy() Policy {
	return v.policy.clone()
}

// Validate runs the checks in order and stops at the first failure: empty
// payload, size ceiling, declared type, extension, magic signature.
// Errors other than *ValidationError come from reading the body.
func (v *Validator) Validate(c UploadCandidate) (Validated, error) {
	limit := v.policy.MaxBytes

	data, err := readLimited(c.Body, limit)
	if err != nil {
		return Validated{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Validated{}, reject(KindEmpty, "file is empty")
	}
	if c.Size > limit || int64(len(data)) > limit {
		return Validated{}, reject(KindTooLarge, "file exceeds the %s limit", humanize.IBytes(uint64(limit)))
	}

	declared := sniffer.NormalizeMIME(c.ContentType)
	rule, ok := v.policy.rule(declared)
	if !ok {
		return Validated{}, reject(KindUnsupportedType, "unsupported content type %q (allowed: %s)",
			c.ContentType, strings.Join(v.policy.AllowedMIMEs(), ", "))
	}

	ext := Extension(c.Filename)
	if ext == "" || !contains(rule.Extensions, ext) {
		return Validated{}, reject(KindInvalidExtension, "invalid file extension %q for %s", ext, rule.MIME)
	}

	if !sniffer.Matches(data, rule.Family) {
		return Validated{}, reject(KindSignatureMismatch, "file content is not a valid %s image", rule.Family)
	}

	return Validated{
		Data:      data,
		MIME:      rule.MIME,
		Family:    rule.Family,
		Extension: ext,
		Filename:  c.Filename,
	}, nil
}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	ext := path.Ext(strings.ReplaceAll(filename, "\\", "/"))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, limit+1)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
