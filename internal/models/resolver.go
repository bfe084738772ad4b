/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package models resolves on-device model files into a stable models
// directory, copying them from the application bundle or a downloadable asset.
package models

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	cp "github.com/otiai10/copy"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/monitoring"
	"github.com/loqalabs/loqa-speech/internal/security"
)

const (
	// PlatformIOS enables the extra bundle candidates used by iOS builds.
	PlatformIOS = "ios"

	lockRetryDelay = 100 * time.Millisecond
)

// ModelAssetConfig identifies a model and where it comes from. Exactly one of
// BundleRelativePath and Asset must be set.
type ModelAssetConfig struct {
	ID                 string
	BundleRelativePath string
	Asset              AssetModule
	// Filename overrides the default "<ID>.gguf" destination name.
	Filename string
}

// EnsureOptions tune EnsureModelAsset.
type EnsureOptions struct {
	ForceRefresh bool
}

// Resolver places model files into ModelsDir.
type Resolver struct {
	modelsDir string
	bundleDir string
	platform  string
	lockDir   string
}

// NewResolver creates a resolver for the given directories and platform.
func NewResolver(modelsDir, bundleDir, platform string) *Resolver {
	return &Resolver{
		modelsDir: modelsDir,
		bundleDir: bundleDir,
		platform:  platform,
		lockDir:   filepath.Join(os.TempDir(), "loqa-speech"),
	}
}

// ModelsDir returns the directory models are resolved into.
func (r *Resolver) ModelsDir() string {
	return r.modelsDir
}

// GetModelPath computes the destination of a model without touching the disk.
func (r *Resolver) GetModelPath(id, filename string) string {
	if filename == "" {
		filename = id + ".gguf"
	}
	return filepath.Join(r.modelsDir, filename)
}

// EnsureModelAsset makes sure the model described by cfg exists in the models
// directory and returns its path.
func (r *Resolver) EnsureModelAsset(ctx context.Context, cfg ModelAssetConfig, opts EnsureOptions) (string, error) {
	if err := validateConfig(cfg); err != nil {
		monitoring.CountModelAsset("error")
		return "", err
	}

	destination := r.GetModelPath(cfg.ID, cfg.Filename)
	if err := os.MkdirAll(r.modelsDir, 0750); err != nil {
		monitoring.CountModelAsset("error")
		return "", fmt.Errorf("failed to create models directory %q: %w", r.modelsDir, err)
	}

	if !opts.ForceRefresh && fileExists(destination) {
		logging.LogModelAsset(cfg.ID, "cache_hit", zap.String("path", destination))
		monitoring.CountModelAsset("cache_hit")
		return destination, nil
	}

	unlock, err := r.lock(ctx, destination)
	if err != nil {
		monitoring.CountModelAsset("error")
		return "", err
	}
	defer unlock()

	// Another process may have finished the copy while we waited.
	if !opts.ForceRefresh && fileExists(destination) {
		logging.LogModelAsset(cfg.ID, "cache_hit", zap.String("path", destination))
		monitoring.CountModelAsset("cache_hit")
		return destination, nil
	}

	if cfg.Asset != nil {
		path, err := r.ensureFromAsset(ctx, cfg, destination)
		if err != nil {
			monitoring.CountModelAsset("error")
			return "", err
		}
		monitoring.CountModelAsset("asset")
		return path, nil
	}

	path, err := r.ensureFromBundle(cfg, destination)
	if err != nil {
		monitoring.CountModelAsset("error")
		return "", err
	}
	monitoring.CountModelAsset("bundle")
	return path, nil
}

func (r *Resolver) ensureFromAsset(ctx context.Context, cfg ModelAssetConfig, destination string) (string, error) {
	logging.LogModelAsset(cfg.ID, "download", zap.String("asset", cfg.Asset.Name()))

	localURI, err := cfg.Asset.Download(ctx)
	if err != nil {
		return "", &AssetResolutionError{ModelID: cfg.ID, Reason: "download failed", Err: err}
	}
	if localURI == "" {
		return "", &AssetResolutionError{ModelID: cfg.ID, Reason: "asset has no local URI after download"}
	}

	if err := copyModelFile(localURI, destination); err != nil {
		return "", &AssetResolutionError{ModelID: cfg.ID, Reason: "copy failed", Err: err}
	}

	logging.LogModelAsset(cfg.ID, "copied", zap.String("path", destination))
	return destination, nil
}

func (r *Resolver) ensureFromBundle(cfg ModelAssetConfig, destination string) (string, error) {
	candidates := r.BundleCandidates(cfg.BundleRelativePath)

	source := ""
	for _, candidate := range candidates {
		if fileExists(candidate) {
			source = candidate
			break
		}
		logging.LogModelAsset(cfg.ID, "candidate_missing",
			zap.String("candidate", security.SanitizeLogInput(candidate)))
	}
	if source == "" {
		return "", &ModelNotFoundError{RelativePath: cfg.BundleRelativePath, Searched: candidates}
	}

	logging.LogModelAsset(cfg.ID, "copy",
		zap.String("source", security.SanitizeLogInput(source)),
		zap.String("destination", destination))

	if err := copyModelFile(source, destination); err != nil {
		return "", fmt.Errorf("failed to copy model %s: %w", cfg.ID, err)
	}
	return destination, nil
}

// BundleCandidates lists the bundle paths checked for relativePath, in order.
func (r *Resolver) BundleCandidates(relativePath string) []string {
	rel := strings.TrimPrefix(relativePath, "/")
	candidates := []string{filepath.Join(r.bundleDir, rel)}

	if r.platform == PlatformIOS {
		candidates = append(candidates, filepath.Join(r.bundleDir, "Supporting", rel))
		if base := filepath.Base(rel); base != "" && base != "." && base != rel {
			candidates = append(candidates, filepath.Join(r.bundleDir, base))
		}
	}
	return candidates
}

// RemoveModelAsset deletes a resolved model. Missing files are not an error.
func (r *Resolver) RemoveModelAsset(id, filename string) error {
	if err := security.ValidateModelID(id); err != nil {
		return err
	}
	if err := security.ValidateFilename(filename); err != nil {
		return err
	}

	destination := r.GetModelPath(id, filename)
	if err := os.Remove(destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove model %s: %w", id, err)
	}
	logging.LogModelAsset(id, "removed", zap.String("path", destination))
	return nil
}

func (r *Resolver) lock(ctx context.Context, destination string) (func(), error) {
	if err := os.MkdirAll(r.lockDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	sum := sha256.Sum256([]byte(destination))
	fileLock := flock.New(filepath.Join(r.lockDir, fmt.Sprintf("%x.lock", sum[:8])))

	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", destination, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock %s", destination)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

func validateConfig(cfg ModelAssetConfig) error {
	if err := security.ValidateModelID(cfg.ID); err != nil {
		return &AssetResolutionError{ModelID: cfg.ID, Reason: "invalid model ID", Err: err}
	}
	if err := security.ValidateFilename(cfg.Filename); err != nil {
		return &AssetResolutionError{ModelID: cfg.ID, Reason: "invalid filename", Err: err}
	}
	hasBundle := cfg.BundleRelativePath != ""
	hasAsset := cfg.Asset != nil
	if hasBundle == hasAsset {
		return &AssetResolutionError{ModelID: cfg.ID, Reason: "exactly one of bundle path or asset module must be set"}
	}
	return nil
}

// copyModelFile writes destination through a .partial file so readers never
// observe a truncated model.
func copyModelFile(source, destination string) error {
	partial := destination + ".partial"
	if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := cp.Copy(source, partial, cp.Options{Sync: true}); err != nil {
		_ = os.Remove(partial)
		return err
	}
	return os.Rename(partial, destination)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
