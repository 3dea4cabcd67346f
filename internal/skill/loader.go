package skill

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultVersion is applied to descriptors that omit a version.
const DefaultVersion = "1.0.0"

// Collision records two descriptor files that resolved to the same name.
// The later file wins and takes over the earlier file's slot.
type Collision struct {
	Name     string `json:"name"`
	Kept     string `json:"kept"`
	Replaced string `json:"replaced"`
}

// LoadReport summarizes one load of the skills directory.
type LoadReport struct {
	Dir        string      `json:"dir"`
	Loaded     int         `json:"skill_count"`
	Skills     []string    `json:"skills"`
	Errors     []LoadError `json:"errors"`
	Collisions []Collision `json:"collisions"`
}

// Load scans dir recursively for .json, .yaml and .yml descriptor files and
// builds a new snapshot. Files are visited in lexical order, so registration
// order is deterministic. A bad file is skipped and reported; only a root
// directory that exists but cannot be read fails the whole load.
func Load(dir string, bindings *Bindings, logger *zap.Logger) (*Snapshot, *LoadReport, error) {
	report := &LoadReport{Dir: dir, Skills: []string{}, Errors: []LoadError{}, Collisions: []Collision{}}
	b := newBuilder()

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("skills directory not found, registry is empty", zap.String("dir", dir))
			return b.snapshot(report), report, nil
		}
		return nil, nil, fmt.Errorf("stat skills dir %s: %w", dir, err)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			report.Errors = append(report.Errors, newLoadError(path, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isDescriptorFile(path) {
			return nil
		}

		rec, err := loadFile(dir, path, bindings)
		if err != nil {
			le := newLoadError(path, err)
			logger.Warn("skipping skill descriptor", zap.String("file", path), zap.Error(err))
			report.Errors = append(report.Errors, le)
			return nil
		}
		if prev, replaced := b.add(rec); replaced {
			logger.Warn("duplicate skill name, later file wins",
				zap.String("skill", rec.Descriptor.Name),
				zap.String("kept", rec.Source),
				zap.String("replaced", prev.Source))
			report.Collisions = append(report.Collisions, Collision{
				Name:     rec.Descriptor.Name,
				Kept:     rec.Source,
				Replaced: prev.Source,
			})
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("read skills dir %s: %w", dir, walkErr)
	}

	snap := b.snapshot(report)
	report.Loaded = snap.Len()
	report.Skills = snap.Names()
	logger.Info("skills loaded",
		zap.String("dir", dir),
		zap.Int("count", report.Loaded),
		zap.Int("errors", len(report.Errors)),
		zap.Int("collisions", len(report.Collisions)))
	return snap, report, nil
}

func isDescriptorFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func loadFile(root, path string, bindings *Bindings) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	desc, err := decodeDescriptor(path, data)
	if err != nil {
		return nil, err
	}
	normalize(&desc, root, path)

	var h Handler
	if bindings != nil {
		h = bindings.Lookup(desc.Action)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, desc.Action)
	}
	return &Record{Descriptor: desc, Handler: h, Source: path, LoadedAt: time.Now()}, nil
}

// decodeDescriptor parses the file into a generic document, validates it
// against the descriptor schema, then converts it to a Descriptor.
func decodeDescriptor(path string, data []byte) (Descriptor, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return Descriptor{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Descriptor{}, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if doc == nil {
		return Descriptor{}, fmt.Errorf("empty descriptor")
	}
	if err := validateDocument(doc); err != nil {
		return Descriptor{}, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Descriptor{}, fmt.Errorf("re-encode descriptor: %w", err)
	}
	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return desc, nil
}

// normalize fills defaults: the name falls back to the containing directory
// (when nested below root) or the file stem, the action to the name.
func normalize(d *Descriptor, root, path string) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		parent := filepath.Dir(path)
		if filepath.Clean(parent) != filepath.Clean(root) {
			d.Name = filepath.Base(parent)
		} else {
			d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	if d.Action == "" {
		d.Action = d.Name
	}
	d.Keywords = normalizeKeywords(d.Keywords)
}

func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.Join(strings.Fields(strings.ToLower(k)), " ")
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
