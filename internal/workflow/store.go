package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// previewLimit bounds how much raw template content a Malformed diagnostic
// carries. Malformed templates are the dominant real-world failure mode, so
// the preview has to be enough to spot the problem without dumping megabytes.
const previewLimit = 200

// ErrNotFound is returned when the named template does not exist.
var ErrNotFound = errors.New("workflow template not found")

// ErrEmpty is returned when the template file exists but is zero-length.
var ErrEmpty = errors.New("workflow template is empty")

// MalformedError reports a template that exists but does not parse. Preview
// holds the first previewLimit bytes of the raw content; Offset is the byte
// position reported by the JSON parser, or -1 when unavailable.
type MalformedError struct {
	Name    string
	Preview string
	Offset  int64
	Err     error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("workflow template %s: %v (offset %d, preview: %s)",
		e.Name, e.Err, e.Offset, e.Preview)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Store loads workflow templates from a directory. Loads are idempotent and
// side-effect-free; callers get an independent Graph per call.
type Store struct {
	dir string
}

// NewStore creates a template store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads and parses the named template. It fails with ErrNotFound when
// the file is absent, ErrEmpty when it is zero-length after trimming, and a
// *MalformedError carrying a bounded preview and parser position when the
// content is not valid JSON.
func (s *Store) Load(name string) (Graph, error) {
	path := filepath.Join(s.dir, name)

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}

	content := strings.TrimSpace(string(raw))
	if content == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	var g Graph
	if err := json.Unmarshal([]byte(content), &g); err != nil {
		return nil, &MalformedError{
			Name:    name,
			Preview: preview(content),
			Offset:  syntaxOffset(err),
			Err:     err,
		}
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	return g, nil
}

func preview(content string) string {
	if len(content) > previewLimit {
		return content[:previewLimit]
	}
	return content
}

func syntaxOffset(err error) int64 {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return syn.Offset
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return typ.Offset
	}
	return -1
}
