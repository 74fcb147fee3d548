package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"labcore/pkg/domain"
)

// CatalogDirEnv names a directory of additional *.yaml schemas loaded after the
// embedded catalog.
const CatalogDirEnv = "LABCORE_CATALOG_DIR"

//go:embed catalog/*.yaml
var catalogFS embed.FS

// Decode parses a single YAML schema document. Unknown keys are rejected.
func Decode(data []byte) (domain.TestTypeSchema, error) {
	var def domain.TestTypeSchema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.TestTypeSchema{}, fmt.Errorf("decode schema: empty document")
		}
		return domain.TestTypeSchema{}, fmt.Errorf("decode schema: %w", err)
	}
	return def, nil
}

// Load decodes and compiles a YAML schema document.
func Load(data []byte) (*Schema, error) {
	def, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// Encode renders a schema definition as YAML.
func Encode(def domain.TestTypeSchema) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", def.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadFS compiles every *.yaml file at the root of fsys, in file name order.
func LoadFS(fsys fs.FS) ([]*Schema, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]*Schema, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		s, err := Load(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Catalog compiles the embedded schema catalog.
func Catalog() ([]*Schema, error) {
	sub, err := fs.Sub(catalogFS, "catalog")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadCatalog registers the embedded catalog into reg.
func LoadCatalog(reg *Registry) error {
	schemas, err := Catalog()
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistryFromEnv returns a registry holding the embedded catalog plus any
// schemas found in the directory named by LABCORE_CATALOG_DIR. A schema from
// the directory replaces the embedded schema with the same id.
func NewRegistryFromEnv() (*Registry, error) {
	reg := NewRegistry()
	if err := LoadCatalog(reg); err != nil {
		return nil, err
	}
	dir := os.Getenv(CatalogDirEnv)
	if dir == "" {
		return reg, nil
	}
	schemas, err := LoadFS(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	for _, s := range schemas {
		reg.Replace(s)
	}
	return reg, nil
}
