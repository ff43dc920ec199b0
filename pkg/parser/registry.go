// Package parser implements the extension-indexed parser registry
// (spec.md §4.2): each upload is routed to the first registered parser
// whose CanParse probe accepts it, and normalized into a model.Report.
package parser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/adsentry/pkg/apperr"
	"github.com/Mindburn-Labs/adsentry/pkg/model"
)

// Parser is the capability set every concrete tool parser implements —
// the Go expression of the teacher's "deep inheritance with a registry"
// pattern: a struct-of-methods instead of a base class.
type Parser interface {
	// CanParse is a cheap structural probe (root tag, header bytes, a
	// JSON key) — it must never fully parse the file.
	CanParse(ctx context.Context, path string, head []byte) bool
	// Parse fully extracts a Report (with its Findings) from path.
	Parse(ctx context.Context, path string) (*model.Report, error)
	// SupportedExtensions lists the file extensions (with leading dot)
	// this parser registers under.
	SupportedExtensions() []string
	// ToolType identifies which ToolType this parser produces.
	ToolType() model.ToolType
}

// Registry dispatches by extension, then by CanParse, in registration
// order — the first match wins.
type Registry struct {
	byExt map[string][]Parser
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string][]Parser)}
}

// Register adds p under every extension it declares.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		ext = normalizeExt(ext)
		r.byExt[ext] = append(r.byExt[ext], p)
	}
}

func normalizeExt(ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(ext)
}

// FindParser returns the first registered parser for path's extension
// whose CanParse probe accepts head, the leading bytes of the file
// (the caller is responsible for reading them).
func (r *Registry) FindParser(ctx context.Context, path string, head []byte) (Parser, error) {
	ext := normalizeExt(filepath.Ext(path))
	candidates, ok := r.byExt[ext]
	if !ok {
		return nil, apperr.New(apperr.KindInputInvalid, "unsupported file type: "+ext)
	}
	for _, p := range candidates {
		if p.CanParse(ctx, path, head) {
			return p, nil
		}
	}
	return nil, apperr.New(apperr.KindInputInvalid, "no parser matched: "+path)
}

// Parse finds and runs the appropriate parser for path.
func (r *Registry) Parse(ctx context.Context, path string, head []byte) (*model.Report, error) {
	p, err := r.FindParser(ctx, path, head)
	if err != nil {
		return nil, err
	}
	report, err := p.Parse(ctx, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParseFailed, "parse "+path, err)
	}
	return report, nil
}
