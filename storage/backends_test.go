package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseBackend runs the store/fetch contract every backend must satisfy.
func exerciseBackend(t *testing.T, backend interfaces.StorageBackend) {
	t.Helper()
	ctx := context.Background()
	data := []byte{0x01, 0x00, 0xff, 0x7f, 0x80, 'c', 't'}

	require.True(t, backend.Available(ctx))

	id, err := backend.Store(ctx, data, interfaces.OwnerCiphertextType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	fetched, err := backend.Fetch(ctx, id, interfaces.OwnerCiphertextType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	// Namespaces are separate.
	_, err = backend.Fetch(ctx, id, interfaces.BeneficiaryCiphertextType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("missing")), interfaces.OwnerCiphertextType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// Storing the same content again is a no-op returning the same id.
	again, err := backend.Store(ctx, data, interfaces.OwnerCiphertextType)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	assert.NotEmpty(t, backend.Name())
	assert.NotEmpty(t, backend.LocationURI())
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	data := []byte("ciphertext")

	id, err := backend.Store(ctx, data, interfaces.OwnerCiphertextType)
	require.NoError(t, err)
	data[0] = 'X'

	fetched, err := backend.Fetch(ctx, id, interfaces.OwnerCiphertextType)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), fetched)
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	exerciseBackend(t, backend)
}

func TestFileBackend_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	data := []byte("beneficiary ciphertext")
	id, err := backend.Store(context.Background(), data, interfaces.BeneficiaryCiphertextType)
	require.NoError(t, err)

	path := filepath.Join(dir, interfaces.BeneficiaryCiphertextType.String(), id.String())
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0600))

	_, err = backend.Fetch(context.Background(), id, interfaces.BeneficiaryCiphertextType)
	assert.ErrorIs(t, err, errContentMismatch)
}

func TestFileBackend_Unavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	backend, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	assert.False(t, backend.Available(context.Background()))
}

// fakeS3 serves path-style object GET/PUT and bucket HEAD.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Backend(t *testing.T) {
	fake := &fakeS3{bucket: "wills", objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend, err := NewS3Backend(S3Config{
		Bucket:    "wills",
		Prefix:    "escrow",
		Region:    "us-east-1",
		Endpoint:  server.URL,
		AccessKey: "key",
		SecretKey: "secret",
		PathStyle: true,
	}, testLogger())
	require.NoError(t, err)
	assert.NotContains(t, backend.LocationURI(), "secret")

	exerciseBackend(t, backend)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.objects, 1)
	for key := range fake.objects {
		assert.True(t, strings.HasPrefix(key, "escrow/owner_ciphertext/"), key)
	}
}

// fakeVault serves the KV v2 read/write endpoints and sys/health.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/v1/sys/health" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"initialized": true, "sealed": false})
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[r.URL.Path] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": 1}})
	case http.MethodGet:
		data, ok := f.secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[]}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data, "metadata": map[string]interface{}{"version": 1}},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultBackend(t *testing.T) {
	fake := &fakeVault{secrets: make(map[string]map[string]interface{})}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend, err := NewVaultBackend(server.URL, "secret", "will-escrow", "test-token", testLogger())
	require.NoError(t, err)

	exerciseBackend(t, backend)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.secrets, 1)
	for path := range fake.secrets {
		assert.True(t, strings.HasPrefix(path, "/v1/secret/data/will-escrow/owner_ciphertext/"), path)
	}
}

// fakeIPFS serves the files/write, files/read and version RPCs of a node API.
type fakeIPFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *fakeIPFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	arg := r.URL.Query().Get("arg")

	switch r.URL.Path {
	case "/api/v0/version":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"Version": "0.29.0", "Commit": "test"})
	case "/api/v0/files/write":
		if r.URL.Query().Get("create") != "true" {
			f.rpcError(w, "file does not exist")
			return
		}
		mr, err := r.MultipartReader()
		if err != nil {
			f.rpcError(w, err.Error())
			return
		}
		part, err := mr.NextPart()
		if err != nil {
			f.rpcError(w, err.Error())
			return
		}
		body, _ := io.ReadAll(part)
		f.files[arg] = body
		w.WriteHeader(http.StatusOK)
	case "/api/v0/files/read":
		body, ok := f.files[arg]
		if !ok {
			f.rpcError(w, "file does not exist")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeIPFS) rpcError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"Message": msg, "Code": 0, "Type": "error"})
}

func newIPFSBackendFor(t *testing.T, server *httptest.Server, root string) *IPFSBackend {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	backend, err := NewIPFSBackend(u.Hostname(), u.Port(), root, 5*time.Second, testLogger())
	require.NoError(t, err)
	return backend
}

func TestIPFSBackend(t *testing.T) {
	fake := &fakeIPFS{files: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := newIPFSBackendFor(t, server, "escrow")
	exerciseBackend(t, backend)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.files, 1)
	for path := range fake.files {
		assert.True(t, strings.HasPrefix(path, "/escrow/owner_ciphertext/"), path)
	}
}

func TestIPFSBackend_DetectsCorruption(t *testing.T) {
	fake := &fakeIPFS{files: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := newIPFSBackendFor(t, server, "")
	ctx := context.Background()

	id, err := backend.Store(ctx, []byte("beneficiary ciphertext"), interfaces.BeneficiaryCiphertextType)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.files["/will-escrow/beneficiary_ciphertext/"+id.String()] = []byte("tampered")
	fake.mu.Unlock()

	_, err = backend.Fetch(ctx, id, interfaces.BeneficiaryCiphertextType)
	assert.ErrorIs(t, err, errContentMismatch)
}

func TestIPFSBackend_Unavailable(t *testing.T) {
	server := httptest.NewServer(&fakeIPFS{files: make(map[string][]byte)})
	backend := newIPFSBackendFor(t, server, "escrow")
	server.Close()

	ctx := context.Background()
	assert.False(t, backend.Available(ctx))

	_, err := backend.Store(ctx, []byte("ciphertext"), interfaces.OwnerCiphertextType)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("ciphertext")), interfaces.OwnerCiphertextType)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())
	dir := t.TempDir()

	tests := []struct {
		name     string
		uri      string
		wantName string
		wantErr  bool
	}{
		{name: "memory", uri: "memory://", wantName: "memory"},
		{name: "file", uri: "file://" + dir, wantName: "file-" + filepath.Base(dir)},
		{name: "s3", uri: "s3://key:secret@wills/prefix?region=eu-west-1&path_style=true&endpoint=http://localhost:9000", wantName: "s3-wills"},
		{name: "ipfs", uri: "ipfs://localhost:5001/escrow?timeout=5s", wantName: "ipfs-localhost-5001"},
		{name: "vault", uri: "vault://localhost:8200/secret/escrow?tls=false&token=t", wantName: "vault-secret-escrow"},
		{name: "vault missing path", uri: "vault://localhost:8200/secret", wantErr: true},
		{name: "ipfs bad timeout", uri: "ipfs://localhost:5001/?timeout=soon", wantErr: true},
		{name: "unsupported scheme", uri: "github://owner/repo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation(tt.uri))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, backend.Name())
		})
	}
}

func TestStorageBackendFactory_CreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		"memory://",
		"unknown://skipped",
		interfaces.StorageBackendLocation("file://" + t.TempDir()),
	})
	require.NoError(t, err)
	exerciseBackend(t, multi)

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"unknown://"})
	assert.Error(t, err)
}
