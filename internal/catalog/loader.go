// Package catalog reads course definitions from YAML files and imports them
// through the authoring service.
package catalog

import (
	_ "embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	})
	return schema, schemaErr
}

// SchemaError lists the schema violations of a catalog document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "catalog document does not match schema: " + strings.Join(e.Problems, "; ")
}

// Parse decodes and validates one catalog document.
func Parse(data []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("decoding yaml: %w", err)
	}
	if raw == nil {
		return Document{}, &SchemaError{Problems: []string{"document is empty"}}
	}

	s, err := compiledSchema()
	if err != nil {
		return Document{}, fmt.Errorf("compiling catalog schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("validating document: %w", err)
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		return Document{}, &SchemaError{Problems: problems}
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// Loader reads every course document under a directory.
type Loader struct {
	rootDir string
	docs    map[string]Document
	skipped []string
	mu      sync.RWMutex
}

// NewLoader creates a loader and reads all *.yaml and *.yml files under
// rootDir. Files that fail to parse are skipped with a warning.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		docs:    make(map[string]Document),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("catalog loaded", "root", rootDir, "courses", len(l.docs), "skipped", len(l.skipped))
	return l, nil
}

// Documents returns the loaded documents ordered by path.
func (l *Loader) Documents() []Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	docs := make([]Document, 0, len(l.docs))
	for _, d := range l.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

// Skipped returns the paths of files that could not be loaded.
func (l *Loader) Skipped() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.skipped...)
}

func (l *Loader) loadAll() error {
	return filepath.WalkDir(l.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			return l.loadDocument(path)
		}
		return nil
	})
}

func (l *Loader) loadDocument(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc, err := Parse(data)
	if err != nil {
		slog.Warn("skipping invalid catalog document", "path", path, "error", err)
		l.mu.Lock()
		l.skipped = append(l.skipped, path)
		l.mu.Unlock()
		return nil
	}
	doc.Path = path

	l.mu.Lock()
	l.docs[path] = doc
	l.mu.Unlock()

	return nil
}
