// Package script turns an agent ScriptConfig into an executable payload.
package script

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mateo/agentbox/internal/agent"
)

// MaxSize caps script files so a stray binary is never uploaded.
const MaxSize = 1 << 20

// InlineName is the diagnostic name of inline scripts.
const InlineName = "<inline>"

// Payload is a resolved script ready for upload.
type Payload struct {
	Body []byte
	// Name is InlineName or the file path as written in the descriptor.
	Name string
	// Digest is the hex blake3-256 of Body.
	Digest string
}

// Kind classifies resolution failures.
type Kind string

const (
	KindFileNotFound Kind = "file-not-found"
	KindTraversal    Kind = "traversal"
	KindTooLarge     Kind = "too-large"
	KindIO           Kind = "io"
)

// ResolveError reports why a script file could not be resolved.
type ResolveError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *ResolveError) Error() string {
	switch e.Kind {
	case KindFileNotFound:
		return fmt.Sprintf("script %s: file not found", e.Path)
	case KindTraversal:
		return fmt.Sprintf("script %s: path escapes the agent directory", e.Path)
	case KindTooLarge:
		return fmt.Sprintf("script %s: larger than %d bytes", e.Path, MaxSize)
	}
	return fmt.Sprintf("script %s: %v", e.Path, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Is lets callers match on kind with errors.Is(err, &ResolveError{Kind: ...}).
func (e *ResolveError) Is(target error) bool {
	t, ok := target.(*ResolveError)
	return ok && t.Kind == e.Kind && t.Path == ""
}

// Sentinels for errors.Is.
var (
	ErrFileNotFound = &ResolveError{Kind: KindFileNotFound}
	ErrTraversal    = &ResolveError{Kind: KindTraversal}
	ErrTooLarge     = &ResolveError{Kind: KindTooLarge}
	ErrIO           = &ResolveError{Kind: KindIO}
)

// Resolve produces the payload for sc. File scripts are read relative to dir,
// which is normally the descriptor's origin.
func Resolve(sc agent.ScriptConfig, dir string) (Payload, error) {
	switch s := sc.(type) {
	case agent.InlineScript:
		return newPayload([]byte(s.Body), InlineName), nil
	case agent.FileScript:
		return resolveFile(dir, s.Path)
	case nil:
		return Payload{}, errors.New("no script configured")
	}
	return Payload{}, fmt.Errorf("unsupported script config %T", sc)
}

// ResolveHostFile reads a script named by a host path, as used for runtime
// scripts. The file's own directory is the root.
func ResolveHostFile(path string) (Payload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Payload{}, &ResolveError{Kind: KindIO, Path: path, Err: err}
	}
	p, err := resolveFile(filepath.Dir(abs), filepath.Base(abs))
	if err != nil {
		return Payload{}, err
	}
	p.Name = path
	return p, nil
}

func resolveFile(dir, rel string) (Payload, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return Payload{}, &ResolveError{Kind: KindTraversal, Path: rel}
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return Payload{}, &ResolveError{Kind: KindTraversal, Path: rel}
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return Payload{}, &ResolveError{Kind: KindIO, Path: rel, Err: err}
	}
	full := filepath.Join(root, clean)

	// Symlinks may still point outside the root.
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return Payload{}, classify(rel, err)
	}
	realFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		return Payload{}, classify(rel, err)
	}
	if r, err := filepath.Rel(realRoot, realFull); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return Payload{}, &ResolveError{Kind: KindTraversal, Path: rel}
	}

	f, err := os.Open(realFull)
	if err != nil {
		return Payload{}, classify(rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Payload{}, &ResolveError{Kind: KindIO, Path: rel, Err: err}
	}
	if info.IsDir() {
		return Payload{}, &ResolveError{Kind: KindIO, Path: rel, Err: errors.New("is a directory")}
	}
	if info.Size() > MaxSize {
		return Payload{}, &ResolveError{Kind: KindTooLarge, Path: rel}
	}

	body, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return Payload{}, &ResolveError{Kind: KindIO, Path: rel, Err: err}
	}
	if len(body) > MaxSize {
		return Payload{}, &ResolveError{Kind: KindTooLarge, Path: rel}
	}
	return newPayload(body, rel), nil
}

func classify(rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &ResolveError{Kind: KindFileNotFound, Path: rel, Err: err}
	}
	return &ResolveError{Kind: KindIO, Path: rel, Err: err}
}

func newPayload(body []byte, name string) Payload {
	sum := blake3.Sum256(body)
	return Payload{Body: body, Name: name, Digest: hex.EncodeToString(sum[:])}
}
