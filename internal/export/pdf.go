package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Assemble merges the cover document (optional) ahead of the rendered
// grid, stamps document metadata and attaches the baked badge images.
// Everything runs through temp files because pdfcpu's merge/attach
// operations are file based.
func Assemble(cover, grid []byte, props map[string]string, attachments map[string][]byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "backpack-*")
	if err != nil {
		return nil, fmt.Errorf("export: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	gridPath := filepath.Join(dir, "grid.pdf")
	if err := os.WriteFile(gridPath, grid, 0o600); err != nil {
		return nil, fmt.Errorf("export: write grid: %w", err)
	}

	merged := filepath.Join(dir, "merged.pdf")
	if len(cover) > 0 {
		coverPath := filepath.Join(dir, "cover.pdf")
		if err := os.WriteFile(coverPath, cover, 0o600); err != nil {
			return nil, fmt.Errorf("export: write cover: %w", err)
		}
		if err := api.MergeCreateFile([]string{coverPath, gridPath}, merged, false, nil); err != nil {
			return nil, fmt.Errorf("export: merge cover: %w", err)
		}
	} else {
		merged = gridPath
	}

	current := merged
	if len(props) > 0 {
		withProps := filepath.Join(dir, "props.pdf")
		if err := api.AddPropertiesFile(current, withProps, props, nil); err != nil {
			return nil, fmt.Errorf("export: set properties: %w", err)
		}
		current = withProps
	}

	if len(attachments) > 0 {
		names := make([]string, 0, len(attachments))
		for name := range attachments {
			names = append(names, name)
		}
		sort.Strings(names)

		files := make([]string, 0, len(names))
		for _, name := range names {
			path := filepath.Join(dir, filepath.Base(name))
			if err := os.WriteFile(path, attachments[name], 0o600); err != nil {
				return nil, fmt.Errorf("export: write attachment %s: %w", name, err)
			}
			files = append(files, path)
		}

		attached := filepath.Join(dir, "attached.pdf")
		if err := api.AddAttachmentsFile(current, attached, files, false, nil); err != nil {
			return nil, fmt.Errorf("export: attach images: %w", err)
		}
		current = attached
	}

	out, err := os.ReadFile(current)
	if err != nil {
		return nil, fmt.Errorf("export: read assembled pdf: %w", err)
	}
	return out, nil
}
