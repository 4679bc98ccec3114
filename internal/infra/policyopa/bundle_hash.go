package policyopa

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"custodia/internal/infra/crypto"
)

type bundleFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// BundleHashFromPath hashes the normative files (*.rego, data.json) under
// dir. A plain .rego file path is hashed on its own.
func BundleHashFromPath(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		return hashFiles([]bundleFile{{Path: path.Base(p), SHA256: crypto.SumHex(data)}})
	}
	return BundleHashFromFS(os.DirFS(p), ".")
}

func BundleHashFromFS(fsys fs.FS, root string) (string, error) {
	var files []bundleFile
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		base := path.Base(p)
		if d.IsDir() {
			if p != root && (strings.HasPrefix(base, ".") || base == "vendor" || base == "__MACOSX") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") || !isNormative(base) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		files = append(files, bundleFile{Path: rel, SHA256: crypto.SumHex(data)})
		return nil
	})
	if err != nil {
		return "", err
	}
	return hashFiles(files)
}

func hashFiles(files []bundleFile) (string, error) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	canonical, err := crypto.Marshal(struct {
		Files []bundleFile `json:"files"`
	}{Files: files})
	if err != nil {
		return "", err
	}
	return crypto.SumHex(canonical), nil
}

func isNormative(base string) bool {
	return base == "data.json" || strings.HasSuffix(base, ".rego")
}
