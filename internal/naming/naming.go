// Package naming generates collision-resistant stored names and derives the
// names of resized copies from them.
package naming

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	timestampLayout = "20060102_150405"
	tokenLength     = 12
	hashBytes       = 6
)

// HashFunc returns a short URL-safe digest of a filename.
type HashFunc func(filename string) (string, error)

type Generator struct {
	now   func() time.Time
	token func() string
	hash  HashFunc
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithTokenSource(token func() string) Option {
	return func(g *Generator) { g.token = token }
}

func WithHash(hash HashFunc) Option {
	return func(g *Generator) { g.hash = hash }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:   time.Now,
		token: RandomToken,
		hash:  FilenameHash,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds <timestamp>_<token>_<hash>.<ext> for an upload called
// original. The hash segment is dropped when hashing fails; uniqueness comes
// from timestamp and token alone.
func (g *Generator) Generate(original string) string {
	parts := []string{g.now().UTC().Format(timestampLayout), g.token()}
	if g.hash != nil {
		if sum, err := g.hash(original); err == nil && sum != "" {
			parts = append(parts, sum)
		}
	}

	name := strings.Join(parts, "_")
	if ext := extension(original); ext != "" {
		name += "." + ext
	}
	return name
}

func RandomToken() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:tokenLength]
}

// FilenameHash is a BLAKE2b digest of the filename truncated to 8 base64url
// characters. It aids tracing an upload back to its source name only.
func FilenameHash(filename string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(filename))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:hashBytes]), nil
}

func extension(filename string) string {
	filename = filename[strings.LastIndexAny(filename, `/\`)+1:]
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}
