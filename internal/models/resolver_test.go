package models

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type countingAsset struct {
	path  string
	calls atomic.Int32
}

func (a *countingAsset) Name() string { return "counting" }

func (a *countingAsset) Download(ctx context.Context) (string, error) {
	a.calls.Add(1)
	return a.path, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestResolver(t *testing.T, platform string) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	r := NewResolver(filepath.Join(root, "models"), filepath.Join(root, "bundle"), platform)
	r.lockDir = filepath.Join(root, "locks")
	return r, root
}

func TestGetModelPath(t *testing.T) {
	r := NewResolver("/data/models", "/bundle", "linux")

	if got := r.GetModelPath("gemma", ""); got != filepath.Join("/data/models", "gemma.gguf") {
		t.Errorf("GetModelPath default = %s", got)
	}
	if got := r.GetModelPath("gemma", "custom.bin"); got != filepath.Join("/data/models", "custom.bin") {
		t.Errorf("GetModelPath override = %s", got)
	}
}

func TestEnsureModelAsset_AssetCachedAfterFirstCall(t *testing.T) {
	r, root := newTestResolver(t, "linux")
	src := filepath.Join(root, "download", "model.gguf")
	writeFile(t, src, "weights")
	asset := &countingAsset{path: src}
	cfg := ModelAssetConfig{ID: "gemma", Asset: asset}

	first, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})
	if err != nil {
		t.Fatalf("first EnsureModelAsset: %v", err)
	}
	second, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})
	if err != nil {
		t.Fatalf("second EnsureModelAsset: %v", err)
	}

	if first != second {
		t.Errorf("paths differ: %s vs %s", first, second)
	}
	if n := asset.calls.Load(); n != 1 {
		t.Errorf("asset downloaded %d times, want 1", n)
	}
	data, err := os.ReadFile(first)
	if err != nil || string(data) != "weights" {
		t.Errorf("destination content = %q, %v", data, err)
	}
	if _, err := os.Stat(first + ".partial"); !os.IsNotExist(err) {
		t.Errorf("partial file left behind")
	}
}

func TestEnsureModelAsset_ForceRefresh(t *testing.T) {
	r, root := newTestResolver(t, "linux")
	src := filepath.Join(root, "download", "model.gguf")
	writeFile(t, src, "v1")
	asset := &countingAsset{path: src}
	cfg := ModelAssetConfig{ID: "gemma", Asset: asset}

	if _, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureModelAsset: %v", err)
	}
	writeFile(t, src, "v2")
	path, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("EnsureModelAsset force: %v", err)
	}

	if n := asset.calls.Load(); n != 2 {
		t.Errorf("asset downloaded %d times, want 2", n)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "v2" {
		t.Errorf("destination content = %q, want v2", data)
	}
}

func TestEnsureModelAsset_AssetWithoutLocalURI(t *testing.T) {
	r, _ := newTestResolver(t, "linux")
	cfg := ModelAssetConfig{ID: "gemma", Asset: &countingAsset{}}

	_, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})

	var resErr *AssetResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected AssetResolutionError, got %v", err)
	}
	if resErr.ModelID != "gemma" {
		t.Errorf("ModelID = %s", resErr.ModelID)
	}
}

func TestEnsureModelAsset_BundleSecondCallSkipsSource(t *testing.T) {
	r, root := newTestResolver(t, "android")
	src := filepath.Join(root, "bundle", "models", "gemma.gguf")
	writeFile(t, src, "bundled")
	cfg := ModelAssetConfig{ID: "gemma", BundleRelativePath: "/models/gemma.gguf"}

	first, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureModelAsset: %v", err)
	}

	// The cache must answer without looking at the bundle again.
	if err := os.Remove(src); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	second, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})
	if err != nil {
		t.Fatalf("second EnsureModelAsset: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %s vs %s", first, second)
	}
}

func TestEnsureModelAsset_BundleNotFound(t *testing.T) {
	r, _ := newTestResolver(t, "android")
	cfg := ModelAssetConfig{ID: "gemma", BundleRelativePath: "models/missing.gguf"}

	_, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})

	var notFound *ModelNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ModelNotFoundError, got %v", err)
	}
	if !strings.Contains(err.Error(), "models/missing.gguf") {
		t.Errorf("error %q does not mention the requested path", err)
	}
	if len(notFound.Searched) != 1 {
		t.Errorf("searched %v, want one candidate", notFound.Searched)
	}
}

func TestBundleCandidates(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		rel      string
		want     []string
	}{
		{
			name:     "plain join",
			platform: "android",
			rel:      "models/gemma.gguf",
			want:     []string{"/b/models/gemma.gguf"},
		},
		{
			name:     "leading slash stripped",
			platform: "linux",
			rel:      "/gemma.gguf",
			want:     []string{"/b/gemma.gguf"},
		},
		{
			name:     "ios variants",
			platform: PlatformIOS,
			rel:      "models/gemma.gguf",
			want:     []string{"/b/models/gemma.gguf", "/b/Supporting/models/gemma.gguf", "/b/gemma.gguf"},
		},
		{
			name:     "ios bare filename not duplicated",
			platform: PlatformIOS,
			rel:      "gemma.gguf",
			want:     []string{"/b/gemma.gguf", "/b/Supporting/gemma.gguf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver("/m", "/b", tt.platform)
			got := r.BundleCandidates(tt.rel)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("BundleCandidates(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}

func TestEnsureModelAsset_IOSSupportingFallback(t *testing.T) {
	r, root := newTestResolver(t, PlatformIOS)
	writeFile(t, filepath.Join(root, "bundle", "gemma.gguf"), "flat")
	cfg := ModelAssetConfig{ID: "gemma", BundleRelativePath: "models/gemma.gguf"}

	path, err := r.EnsureModelAsset(context.Background(), cfg, EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureModelAsset: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "flat" {
		t.Errorf("content = %q, want flat", data)
	}
}

func TestEnsureModelAsset_InvalidConfig(t *testing.T) {
	r, _ := newTestResolver(t, "linux")

	tests := []struct {
		name string
		cfg  ModelAssetConfig
	}{
		{"no source", ModelAssetConfig{ID: "gemma"}},
		{"both sources", ModelAssetConfig{ID: "gemma", BundleRelativePath: "x.gguf", Asset: &countingAsset{}}},
		{"traversal id", ModelAssetConfig{ID: "../gemma", BundleRelativePath: "x.gguf"}},
		{"traversal filename", ModelAssetConfig{ID: "gemma", BundleRelativePath: "x.gguf", Filename: "../x.gguf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.EnsureModelAsset(context.Background(), tt.cfg, EnsureOptions{})
			var resErr *AssetResolutionError
			if !errors.As(err, &resErr) {
				t.Errorf("expected AssetResolutionError, got %v", err)
			}
		})
	}
}

func TestRemoveModelAsset_Idempotent(t *testing.T) {
	r, _ := newTestResolver(t, "linux")
	path := r.GetModelPath("gemma", "")
	writeFile(t, path, "x")

	if err := r.RemoveModelAsset("gemma", ""); err != nil {
		t.Fatalf("RemoveModelAsset: %v", err)
	}
	if err := r.RemoveModelAsset("gemma", ""); err != nil {
		t.Fatalf("second RemoveModelAsset: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("model still present")
	}
}

func TestRemoteAsset_Download(t *testing.T) {
	payload := "gguf-bytes"
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(payload)))
	asset := &RemoteAsset{URL: server.URL + "/tiny.gguf", SHA256: sum, CacheDir: t.TempDir()}

	path, err := asset.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Base(path) != "tiny.gguf" {
		t.Errorf("path = %s", path)
	}
	if _, err := asset.Download(context.Background()); err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestRemoteAsset_ChecksumMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	dir := t.TempDir()
	asset := &RemoteAsset{URL: server.URL + "/tiny.gguf", SHA256: "deadbeef", CacheDir: dir}

	if _, err := asset.Download(context.Background()); err == nil {
		t.Fatal("expected checksum error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("cache dir not clean: %v", entries)
	}
}

func TestRemoteAsset_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	asset := &RemoteAsset{URL: server.URL + "/tiny.gguf", CacheDir: t.TempDir()}
	if _, err := asset.Download(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestInspect_NotGGUF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.gguf")
	writeFile(t, path, "not a gguf file")

	if _, err := Inspect(path); err == nil {
		t.Fatal("expected parse error")
	}
}
