package nginxconf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// templateTree holds the packaged base nginx.conf, mime.types, and an
// empty conf.d/ directory, shipped inside the binary rather than read
// from the launch working directory.
//
//go:embed templates/nginx.conf templates/mime.types all:templates/conf.d
var templateTree embed.FS

// CopyTemplateTree writes the packaged template tree into destDir,
// creating directories as needed. It is the first step of the reloader's
// filesystem reset.
func CopyTemplateTree(destDir string) error {
	return fs.WalkDir(templateTree, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("templates", path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Name() == ".keep" {
			return nil
		}

		data, err := templateTree.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading embedded template %s: %w", path, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("writing template %s: %w", target, err)
		}
		return nil
	})
}
