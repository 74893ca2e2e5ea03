package rack

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	archiveExt   = ".zip"
	manifestName = "_manifest.json"
)

// backupManifest records the ordered type list used at backup time and the
// canonical key of every archived entry. Keys must travel in the manifest
// because a tag's name lives only in its key, not in its encoded form.
type backupManifest struct {
	Types []string            `json:"types"`
	Keys  map[string][]string `json:"keys"`
}

// archivePath places an archive: "" means "<dbpath>.zip"; a bare name goes
// next to the database file; anything with a path or extension is used
// verbatim.
func (s *Store) archivePath(name string) string {
	base := s.path
	if base == "" {
		base = "rack"
	}
	if name == "" {
		return base + archiveExt
	}
	if filepath.Ext(name) != "" || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return filepath.Join(filepath.Dir(base), name+archiveExt)
}

// Backup writes the whole store to a zip archive: one {type}.json member
// per registered type holding a JSON array of encoded entries in canonical
// order, plus a manifest.
func (s *Store) Backup(name string) error {
	path := s.archivePath(name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	manifest := backupManifest{Keys: make(map[string][]string)}

	for _, typ := range s.schema.Types() {
		keys := s.typeKeysSorted(typ)
		entries := make([]map[string]any, 0, len(keys))
		for _, key := range keys {
			raw, err := s.stor.Get(key)
			if err != nil {
				return err
			}
			m, err := s.enc.unmarshal(raw)
			if err != nil {
				return fmt.Errorf("backup %s: %w", key, err)
			}
			entries = append(entries, m)
		}
		manifest.Types = append(manifest.Types, typ.name)
		manifest.Keys[typ.name] = keys

		w, err := zw.Create(typ.name + ".json")
		if err != nil {
			return err
		}
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			return err
		}
	}

	w, err := zw.Create(manifestName)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(manifest); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	s.logger.Info("backup written", zap.String("path", path))
	return f.Close()
}

// Restore wipes the store and re-inserts every archived entry under its
// original canonical key; ids are never reassigned. Archive members for
// unregistered types are rejected before anything is wiped.
func (s *Store) Restore(name string) error {
	path := s.archivePath(name)
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	var manifest *backupManifest
	for _, member := range zr.File {
		if member.Name == manifestName {
			m, err := readArchiveJSON[backupManifest](member)
			if err != nil {
				return err
			}
			manifest = m
			continue
		}
		typeName, ok := strings.CutSuffix(member.Name, ".json")
		if !ok {
			return fmt.Errorf("restore: unexpected archive member %q", member.Name)
		}
		if s.schema.TypeNamed(typeName) == nil {
			return schemaErrf(typeName, "archive holds entries of an unregistered type")
		}
	}
	if manifest == nil {
		return fmt.Errorf("restore: archive has no %s", manifestName)
	}

	if err := s.stor.Wipe(); err != nil {
		return err
	}

	for _, typeName := range manifest.Types {
		member := findArchiveMember(&zr.Reader, typeName+".json")
		if member == nil {
			return fmt.Errorf("restore: manifest names %q but the archive has no such member", typeName)
		}
		entries, err := readArchiveJSON[[]map[string]any](member)
		if err != nil {
			return err
		}
		keys := manifest.Keys[typeName]
		if len(keys) != len(*entries) {
			return fmt.Errorf("restore %s: manifest lists %d keys for %d entries", typeName, len(keys), len(*entries))
		}
		for i, m := range *entries {
			norm, err := normalizeValue(m)
			if err != nil {
				return err
			}
			e, err := decodeEntry(s.schema, norm.(map[string]any))
			if err != nil {
				return err
			}
			encoded, err := encodeEntry(e)
			if err != nil {
				return err
			}
			raw, err := s.enc.marshal(encoded)
			if err != nil {
				return err
			}
			if err := s.stor.Put(keys[i], raw); err != nil {
				return err
			}
		}
	}
	s.logger.Info("store restored", zap.String("path", path))
	return nil
}

func findArchiveMember(zr *zip.Reader, name string) *zip.File {
	for _, member := range zr.File {
		if member.Name == name {
			return member
		}
	}
	return nil
}

func readArchiveJSON[T any](member *zip.File) (*T, error) {
	r, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var out T
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("restore %s: %w", member.Name, err)
	}
	return &out, nil
}
