package reference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Parser turns a reference document on disk into a Model.
type Parser interface {
	Parse(ctx context.Context, path string) (*Model, error)
}

// DecodeFunc decodes raw document bytes into Content.
type DecodeFunc func(data []byte) (Content, error)

// FileParser picks a decoder by file extension.
type FileParser struct {
	decoders map[string]DecodeFunc
}

var _ Parser = (*FileParser)(nil)

// NewFileParser returns a parser for .md/.markdown, .html/.htm and .yaml/.yml.
func NewFileParser() *FileParser {
	return &FileParser{decoders: map[string]DecodeFunc{
		".md":       DecodeMarkdown,
		".markdown": DecodeMarkdown,
		".html":     DecodeHTML,
		".htm":      DecodeHTML,
		".yaml":     DecodeYAML,
		".yml":      DecodeYAML,
	}}
}

// Register adds or replaces the decoder for an extension (".ext").
func (p *FileParser) Register(ext string, fn DecodeFunc) {
	p.decoders[strings.ToLower(ext)] = fn
}

func (p *FileParser) Parse(ctx context.Context, path string) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := p.decoders[ext]
	if !ok {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unsupported document format %q", ext)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &ParseError{Path: path, Err: errors.New("document is empty")}
	}

	c, err := decode(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	c.Service = strings.TrimSpace(c.Service)
	inferred := c.Service == ""
	if inferred {
		c.Service = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	m := New(c)
	m.inferred = inferred
	return m, nil
}
