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

package models

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/logging"
)

// AssetModule is a model source that must be fetched before it can be copied
// into the models directory.
type AssetModule interface {
	Name() string
	// Download makes the asset available locally and returns its path.
	Download(ctx context.Context) (string, error)
}

// RemoteAsset downloads a model over HTTP into CacheDir.
type RemoteAsset struct {
	URL      string
	SHA256   string
	CacheDir string
	Client   *http.Client
}

func (a *RemoteAsset) Name() string {
	return path.Base(a.URL)
}

// Download fetches the asset unless a verified copy is already cached.
func (a *RemoteAsset) Download(ctx context.Context) (string, error) {
	if a.URL == "" {
		return "", nil
	}
	filePath := filepath.Join(a.CacheDir, a.Name())

	if _, err := os.Stat(filePath); err == nil {
		if a.SHA256 == "" {
			return filePath, nil
		}
		sum, err := calculateSHA(filePath)
		if err == nil && sum == a.SHA256 {
			return filePath, nil
		}
		logging.LogWarn("Cached asset checksum mismatch, downloading again",
			zap.String("path", filePath))
	}

	if err := os.MkdirAll(a.CacheDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create cache directory %q: %w", a.CacheDir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %q: %w", a.URL, err)
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %q: %w", a.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("failed to download %q, invalid status code %d", a.URL, resp.StatusCode)
	}

	tmpFilePath := filePath + ".partial"
	if err := os.Remove(tmpFilePath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove partial file %q: %w", tmpFilePath, err)
	}

	outFile, err := os.Create(tmpFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %q: %w", tmpFilePath, err)
	}

	hash := sha256.New()
	_, err = io.Copy(io.MultiWriter(outFile, hash), resp.Body)
	closeErr := outFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpFilePath)
		return "", fmt.Errorf("failed to write file %q: %w", tmpFilePath, err)
	}

	if a.SHA256 != "" {
		calculated := fmt.Sprintf("%x", hash.Sum(nil))
		if calculated != a.SHA256 {
			_ = os.Remove(tmpFilePath)
			return "", fmt.Errorf("SHA mismatch for %q (calculated: %s != expected: %s)", a.URL, calculated, a.SHA256)
		}
	}

	if err := os.Rename(tmpFilePath, filePath); err != nil {
		return "", fmt.Errorf("failed to rename temporary file %s -> %s: %w", tmpFilePath, filePath, err)
	}

	logging.Sugar.Infof("Downloaded model asset %s", filePath)
	return filePath, nil
}

func calculateSHA(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
