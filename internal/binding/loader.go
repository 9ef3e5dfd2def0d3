package binding

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Loader handles loading bindings from disk.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new binding loader.
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{
		logger: logger.With(zap.String("component", "binding-loader")),
	}
}

// Load loads a single binding from a directory.
func (l *Loader) Load(dir string) (*Bundle, error) {
	l.logger.Debug("Loading binding", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	table, err := TableFromManifest(manifest)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Binding loaded",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Int("functions", table.Len()),
	)

	return &Bundle{Manifest: manifest, Table: table}, nil
}

// Discover scans directories for bindings. A path may itself be a binding
// directory or contain one binding per subdirectory.
func (l *Loader) Discover(paths []string) ([]*Bundle, error) {
	var bundles []*Bundle
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning binding directory", zap.String("path", basePath))

		if _, err := os.Stat(filepath.Join(basePath, "manifest.yaml")); err == nil {
			b, err := l.Load(basePath)
			if err != nil {
				return nil, err
			}
			bundles = append(bundles, b)
			continue
		}

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Binding path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			dir := filepath.Join(basePath, entry.Name())

			b, err := l.Load(dir)
			if err != nil {
				l.logger.Error("Failed to load binding",
					zap.String("dir", dir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			bundles = append(bundles, b)
		}
	}

	if len(bundles) > 0 && len(errs) > 0 {
		l.logger.Warn("Some bindings failed to load",
			zap.Int("loaded", len(bundles)),
			zap.Int("failed", len(errs)),
		)
	}

	if len(bundles) == 0 {
		return nil, &NoBindingsFoundError{Paths: paths}
	}

	return bundles, nil
}

// LoadAll discovers bindings under paths, registers them, and returns the merged table.
func (l *Loader) LoadAll(r *Registry, paths []string) (*Table, error) {
	bundles, err := l.Discover(paths)
	if err != nil {
		return nil, err
	}
	for _, b := range bundles {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r.Table()
}
