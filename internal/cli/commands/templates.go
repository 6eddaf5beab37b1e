package commands

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed all:templates
var templateFS embed.FS

// scaffoldAction says what happened to one template file.
type scaffoldAction string

const (
	scaffoldCreated     scaffoldAction = "created"
	scaffoldOverwritten scaffoldAction = "overwrote"
	scaffoldKept        scaffoldAction = "kept"
)

type scaffoldedFile struct {
	Path   string
	Action scaffoldAction
}

// scaffold writes the embedded project template into targetDir. Existing
// files are kept unless force is set.
func scaffold(templateName, targetDir string, force bool) ([]scaffoldedFile, error) {
	root := path.Join("templates", templateName)

	var files []scaffoldedFile
	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			return nil
		}

		name := dotfileName(rel)
		target := filepath.Join(targetDir, filepath.FromSlash(name))
		if d.IsDir() {
			return os.MkdirAll(target, 0750)
		}

		action := scaffoldCreated
		if _, err := os.Stat(target); err == nil {
			if !force {
				files = append(files, scaffoldedFile{Path: name, Action: scaffoldKept})
				return nil
			}
			action = scaffoldOverwritten
		}

		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, content, 0600); err != nil {
			return err
		}
		files = append(files, scaffoldedFile{Path: name, Action: action})
		return nil
	})
	return files, err
}

// dotfileName restores the leading dot of files embed cannot carry.
func dotfileName(rel string) string {
	dir, base := path.Split(rel)
	if base == "gitignore" {
		return dir + ".gitignore"
	}
	return rel
}
