package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedExtensions are the file extensions the parser set understands.
var SupportedExtensions = []string{
	".md", ".markdown", ".mdown", ".txt", ".text", ".pdf", ".docx",
}

// SourceConfig identifies one corpus: where its raw files live and which
// canonical table its chunks land in.
type SourceConfig struct {
	Name             string   `yaml:"name"`
	CollectionName   string   `yaml:"collection_name"`
	ObjectPrefix     string   `yaml:"object_prefix"`
	SupportedFormats []string `yaml:"supported_formats"`
	Description      string   `yaml:"description"`
}

// Supports reports whether the source admits files with the given extension.
func (s SourceConfig) Supports(ext string) bool {
	ext = strings.ToLower(ext)
	for _, f := range s.SupportedFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// defaultSources is the built-in registry. sources.yaml and THOTH_SOURCE_*
// environment variables override these entries.
func defaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:             "handbook",
			CollectionName:   "handbook",
			ObjectPrefix:     "sources/handbook/",
			SupportedFormats: []string{".md", ".markdown", ".mdown"},
			Description:      "Company handbook markdown corpus",
		},
		{
			Name:             "dnd",
			CollectionName:   "dnd_documents",
			ObjectPrefix:     "sources/dnd/",
			SupportedFormats: []string{".md", ".markdown", ".pdf", ".txt", ".docx"},
			Description:      "Campaign notes and rulebooks",
		},
		{
			Name:             "personal",
			CollectionName:   "personal_notes",
			ObjectPrefix:     "sources/personal/",
			SupportedFormats: []string{".md", ".markdown", ".txt", ".text"},
			Description:      "Personal notes",
		},
	}
}

// Registry holds the configured sources keyed by name.
type Registry struct {
	sources map[string]SourceConfig
}

// sourcesFile mirrors the sources.yaml layout.
type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadRegistry builds the source registry: built-in defaults, merged with an
// optional YAML file at path (empty path skips the file), then THOTH_SOURCE_*
// environment overrides. The registry is validated before returning.
func LoadRegistry(path string) (*Registry, error) {
	sources := make(map[string]SourceConfig)
	for _, s := range defaultSources() {
		sources[s.Name] = s
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var parsed sourcesFile
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				return nil, fmt.Errorf("parse sources file %s: %w", path, err)
			}
			for _, s := range parsed.Sources {
				if s.Name == "" {
					return nil, fmt.Errorf("source in %s is missing a name", path)
				}
				if len(s.SupportedFormats) == 0 {
					s.SupportedFormats = SupportedExtensions
				}
				sources[s.Name] = s
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read sources file %s: %w", path, err)
		}
	}

	applySourceEnvOverrides(sources)

	r := &Registry{sources: sources}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// applySourceEnvOverrides applies THOTH_SOURCE_{NAME}_OBJECT_PREFIX and
// THOTH_SOURCE_{NAME}_COLLECTION overrides.
func applySourceEnvOverrides(sources map[string]SourceConfig) {
	for name, src := range sources {
		upper := strings.ToUpper(name)
		if v := os.Getenv("THOTH_SOURCE_" + upper + "_OBJECT_PREFIX"); v != "" {
			src.ObjectPrefix = v
		}
		if v := os.Getenv("THOTH_SOURCE_" + upper + "_COLLECTION"); v != "" {
			src.CollectionName = v
		}
		sources[name] = src
	}
}

// validate enforces pairwise uniqueness of collection names and object
// prefixes, and rejects the reserved batch prefix as a collection name.
func (r *Registry) validate() error {
	collections := make(map[string]string)
	prefixes := make(map[string]string)

	for name, src := range r.sources {
		if src.CollectionName == "" {
			return fmt.Errorf("source %q has no collection_name", name)
		}
		if strings.HasPrefix(src.CollectionName, BatchPrefix) {
			return fmt.Errorf("source %q collection_name uses reserved prefix %q", name, BatchPrefix)
		}
		if other, dup := collections[src.CollectionName]; dup {
			return fmt.Errorf("sources %q and %q share collection_name %q", other, name, src.CollectionName)
		}
		collections[src.CollectionName] = name

		if src.ObjectPrefix == "" {
			return fmt.Errorf("source %q has no object_prefix", name)
		}
		if other, dup := prefixes[src.ObjectPrefix]; dup {
			return fmt.Errorf("sources %q and %q share object_prefix %q", other, name, src.ObjectPrefix)
		}
		prefixes[src.ObjectPrefix] = name
	}

	return nil
}

// Get returns the source with the given name.
func (r *Registry) Get(name string) (SourceConfig, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered source, ordered by name.
func (r *Registry) All() []SourceConfig {
	all := make([]SourceConfig, 0, len(r.sources))
	for _, name := range r.Names() {
		all = append(all, r.sources[name])
	}
	return all
}
