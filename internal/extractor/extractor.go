// Package extractor is the boundary to the source-code extractor. The
// extractor itself runs outside this module and leaves an API inventory file
// inside each project; this package finds that inventory in a project
// directory or .zip archive and turns it into a model.ServiceBuilder.
package extractor

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/model"
)

// ErrExtraction is matched by every *ExtractionError.
var ErrExtraction = errors.New("extraction failed")

// ExtractionError reports a malformed archive or inventory.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() []error { return []error{ErrExtraction, e.Err} }

// Extractor produces the draft model of one project.
type Extractor interface {
	Extract(ctx context.Context, projectPath string) (*model.ServiceBuilder, error)
}

// DefaultPatterns locate the inventory inside a project.
var DefaultPatterns = []string{
	"**/apilens-inventory.yaml",
	"**/apilens-inventory.yml",
	"**/apilens-inventory.json",
}

// maxInventorySize bounds how much of an archive entry is read.
const maxInventorySize = 16 << 20

type Config struct {
	// Patterns are doublestar globs matched against slash-separated paths
	// relative to the project root.
	Patterns []string `yaml:"inventory_patterns"`
}

// InventoryExtractor reads extractor inventories from directories, .zip
// archives, or an inventory file given directly.
type InventoryExtractor struct {
	patterns []string
	logger   logging.Logger
}

var _ Extractor = (*InventoryExtractor)(nil)

func NewInventoryExtractor(cfg Config, logger logging.Logger) *InventoryExtractor {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &InventoryExtractor{
		patterns: patterns,
		logger:   logger.With(logging.Field{Key: "component", Value: "extractor"}),
	}
}

func (x *InventoryExtractor) Extract(ctx context.Context, projectPath string) (*model.ServiceBuilder, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{Path: projectPath, Err: err}
	}

	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, &ExtractionError{Path: projectPath, Err: err}
	}

	var (
		data  []byte
		entry string
	)
	switch {
	case info.IsDir():
		entry, data, err = x.readFromFS(os.DirFS(projectPath))
	case strings.EqualFold(filepath.Ext(projectPath), ".zip"):
		entry, data, err = x.readFromZip(projectPath)
	default:
		entry = filepath.Base(projectPath)
		data, err = os.ReadFile(projectPath)
	}
	if err != nil {
		return nil, &ExtractionError{Path: projectPath, Err: err}
	}

	inv, err := decodeInventory(data)
	if err != nil {
		return nil, &ExtractionError{Path: projectPath, Err: fmt.Errorf("%s: %w", entry, err)}
	}
	b, err := inv.builder()
	if err != nil {
		return nil, &ExtractionError{Path: projectPath, Err: err}
	}

	x.logger.Debug("inventory extracted",
		logging.Field{Key: "path", Value: projectPath},
		logging.Field{Key: "entry", Value: entry},
		logging.Field{Key: "service", Value: b.Name()},
		logging.Field{Key: "endpoints", Value: len(inv.Endpoints)},
		logging.Field{Key: "calls", Value: len(inv.Calls)})
	return b, nil
}

func (x *InventoryExtractor) readFromFS(fsys fs.FS) (string, []byte, error) {
	seen := map[string]struct{}{}
	var matches []string
	for _, pattern := range x.patterns {
		found, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return "", nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range found {
			if _, dup := seen[m]; !dup {
				seen[m] = struct{}{}
				matches = append(matches, m)
			}
		}
	}
	name, err := pickOne(matches)
	if err != nil {
		return "", nil, err
	}
	f, err := fsys.Open(name)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxInventorySize))
	return name, data, err
}

func (x *InventoryExtractor) readFromZip(archivePath string) (string, []byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	files := map[string]*zip.File{}
	var matches []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		for _, pattern := range x.patterns {
			if ok, _ := doublestar.Match(pattern, f.Name); ok {
				files[f.Name] = f
				matches = append(matches, f.Name)
				break
			}
		}
	}
	name, err := pickOne(matches)
	if err != nil {
		return "", nil, err
	}
	rc, err := files[name].Open()
	if err != nil {
		return "", nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxInventorySize))
	return name, data, err
}

func pickOne(matches []string) (string, error) {
	switch len(matches) {
	case 0:
		return "", errors.New("no API inventory found")
	case 1:
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", fmt.Errorf("multiple API inventories found: %s", strings.Join(matches, ", "))
}
