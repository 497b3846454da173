// Package bundle packages cookbooks and roles into a single archive and
// swaps it into place on a target.
package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"galley/internal/catalog"
)

// Write streams a gzip-compressed tar of cookbooks/<name> for each name and
// the whole roles/ tree under kitchenRoot. Entry names are relative to the
// kitchen root.
func Write(w io.Writer, kitchenRoot string, cookbooks []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, name := range cookbooks {
		rel := filepath.Join(catalog.CookbooksDir, name)
		if err := addTree(tw, kitchenRoot, rel); err != nil {
			return fmt.Errorf("archive cookbook %q: %w", name, err)
		}
	}
	if err := addTree(tw, kitchenRoot, catalog.RolesDir); err != nil {
		return fmt.Errorf("archive roles: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

// Create writes the archive to a new temp file in dir and returns its path.
// The caller removes the file.
func Create(dir, kitchenRoot string, cookbooks []string) (string, error) {
	f, err := os.CreateTemp(dir, "galley-bundle-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := Write(f, kitchenRoot, cookbooks); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close archive: %w", err)
	}
	return f.Name(), nil
}

func addTree(tw *tar.Writer, root, rel string) error {
	base := filepath.Join(root, rel)
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name = filepath.ToSlash(name)

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
