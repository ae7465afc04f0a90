package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

var (
	// ErrTooLarge is returned when an upload exceeds the size cap.
	ErrTooLarge = errors.New("image exceeds maximum size")

	// ErrUnsupportedType is returned when the sniffed content is not an
	// accepted image format.
	ErrUnsupportedType = errors.New("unsupported image type")

	// ErrStorageUnavailable is returned when the upload directory cannot
	// be created or written.
	ErrStorageUnavailable = errors.New("asset storage unavailable")
)

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Pipeline validates uploaded images and persists them under
// collision-safe names in a single upload directory.
type Pipeline struct {
	dir         string
	placeholder string
	maxBytes    int64
	logger      *zerolog.Logger
}

func NewPipeline(dir, placeholder string, maxBytes int64, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{dir: dir, placeholder: placeholder, maxBytes: maxBytes, logger: logger}
}

// Dir returns the upload directory the pipeline writes to.
func (p *Pipeline) Dir() string { return p.dir }

// Ingest validates data and stores it, returning the final file name.
// Validation is fail-fast: size, then sniffed content type, then name
// sanitation. The client-declared name is never trusted for type checks.
func (p *Pipeline) Ingest(data []byte, declaredName string) (string, error) {
	if int64(len(data)) > p.maxBytes {
		return "", ErrTooLarge
	}

	mtype := mimetype.Detect(data)
	if !isAllowed(mtype) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	name := SanitizeName(declaredName)
	if name == "" {
		name = "upload" + mtype.Extension()
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create upload dir: %v", ErrStorageUnavailable, err)
	}

	storedName, err := p.writeUnique(name, data)
	if err != nil {
		return "", err
	}

	p.logger.Info().Str("stored_name", storedName).Int("size", len(data)).Msg("asset stored")
	return storedName, nil
}

// writeUnique persists data under name, appending _1, _2, ... before the
// extension until a free name is found. O_EXCL makes create-if-absent
// atomic, so concurrent uploads of the same name cannot clobber each other.
func (p *Pipeline) writeUnique(name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 1; ; n++ {
		file, err := os.OpenFile(filepath.Join(p.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if _, werr := file.Write(data); werr != nil {
				file.Close()
				os.Remove(filepath.Join(p.dir, candidate))
				return "", fmt.Errorf("%w: write asset: %v", ErrStorageUnavailable, werr)
			}
			if cerr := file.Close(); cerr != nil {
				return "", fmt.Errorf("%w: close asset: %v", ErrStorageUnavailable, cerr)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: create asset: %v", ErrStorageUnavailable, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

// Remove deletes a stored asset by name, best-effort. The placeholder and
// empty names are never touched; failures are logged and swallowed.
func (p *Pipeline) Remove(name string) {
	if name == "" || name == p.placeholder {
		return
	}
	if filepath.Base(name) != name {
		p.logger.Warn().Str("name", name).Msg("refusing to remove asset outside upload dir")
		return
	}
	if err := os.Remove(filepath.Join(p.dir, name)); err != nil && !os.IsNotExist(err) {
		p.logger.Warn().Err(err).Str("name", name).Msg("failed to remove asset")
	}
}

// SanitizeName strips directory components and replaces every character
// outside [A-Za-z0-9._ -] with an underscore.
func SanitizeName(declared string) string {
	base := filepath.Base(strings.ReplaceAll(declared, "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == ' ' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	name := b.String()
	if strings.Trim(name, "._ -") == "" {
		return ""
	}
	return name
}

func isAllowed(mtype *mimetype.MIME) bool {
	for _, allowed := range allowedTypes {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}
