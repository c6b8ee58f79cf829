// Package demo writes a small two-service sample batch: extractor
// inventories for an orders and a shipping service, plus the design
// documents describing them. The shipping project is packed as a .zip.
package demo

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
)

// FileDefinition is one file of the sample batch.
type FileDefinition struct {
	// Path is slash-separated and relative to the output directory.
	Path        string
	Description string
	Content     string
	// Archive, when set, packs the file into that .zip instead of writing
	// it directly. Path is then the entry name inside the archive.
	Archive string
}

// Batch lists the inputs to submit, in submission order.
type Batch struct {
	Projects   []string `json:"projects"`
	References []string `json:"references"`
}

// GetAllFiles returns every file of the sample batch.
func GetAllFiles() []FileDefinition {
	return []FileDefinition{
		{
			Path:        "projects/orders/apilens-inventory.yaml",
			Description: "orders service inventory",
			Content:     ordersInventory,
		},
		{
			Path:        "shipping/apilens-inventory.yaml",
			Archive:     "projects/shipping.zip",
			Description: "shipping service inventory, packed as an archive",
			Content:     shippingInventory,
		},
		{
			Path:        "docs/orders.md",
			Description: "orders design document",
			Content:     ordersDoc,
		},
		{
			Path:        "docs/shipping.md",
			Description: "shipping design document",
			Content:     shippingDoc,
		},
	}
}

// Write creates the sample batch under dir and returns the paths to submit.
func Write(dir string) (Batch, error) {
	archives := map[string][]FileDefinition{}
	var order []string
	for _, f := range GetAllFiles() {
		if f.Archive != "" {
			if _, ok := archives[f.Archive]; !ok {
				order = append(order, f.Archive)
			}
			archives[f.Archive] = append(archives[f.Archive], f)
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return Batch{}, err
		}
		if err := os.WriteFile(p, []byte(f.Content), 0o644); err != nil {
			return Batch{}, fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	for _, name := range order {
		if err := writeZip(filepath.Join(dir, filepath.FromSlash(name)), archives[name]); err != nil {
			return Batch{}, fmt.Errorf("write %s: %w", name, err)
		}
	}

	join := func(p string) string { return filepath.Join(dir, filepath.FromSlash(p)) }
	return Batch{
		Projects:   []string{join("projects/orders"), join("projects/shipping.zip")},
		References: []string{join("docs/orders.md"), join("docs/shipping.md")},
	}, nil
}

func writeZip(path string, files []FileDefinition) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, def := range files {
		w, err := zw.Create(def.Path)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write([]byte(def.Content)); err != nil {
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
