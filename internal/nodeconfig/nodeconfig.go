// Package nodeconfig builds node configuration documents and writes them
// into the kitchen.
//
// Persist never overwrites an existing node document unless the caller asks
// to save: one-off runs against a node that already has a document go to
// the kitchen's scratch file instead.
package nodeconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"

	"galley/internal/catalog"
	"galley/internal/runlist"
)

// ScratchFile is the kitchen-relative path of the scratch document.
const ScratchFile = "tmp_node.json"

// Build assembles a node document from an identity and a run list.
func Build(id catalog.Identity, entries runlist.List) catalog.Node {
	rl := make(runlist.List, len(entries))
	copy(rl, entries)
	return catalog.Node{Identity: id, RunList: rl}
}

// Encode serializes a node with sorted keys and four-space indentation,
// followed by a newline.
func Encode(n catalog.Node) ([]byte, error) {
	compact, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode node %q: %w", n.Identity.Name, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "    "); err != nil {
		return nil, fmt.Errorf("indent node %q: %w", n.Identity.Name, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Persist writes n into the kitchen and returns the path written. The
// canonical path is nodes/<nodename>.json; when a document already exists
// there and save is false the scratch path is used instead.
func Persist(store *catalog.Store, n catalog.Node, save bool) (string, error) {
	if n.Identity.Name == "" {
		return "", fmt.Errorf("persist node: empty node name")
	}
	path := store.NodePath(n.Identity.Name)
	exists, err := fileExists(path)
	if err != nil {
		return "", err
	}
	if exists && !save {
		path = filepath.Join(store.Root(), ScratchFile)
	}

	data, err := Encode(n)
	if err != nil {
		return "", err
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write node document %s: %w", path, err)
	}
	return path, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
