package blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the subset of the S3 REST API used by the S3 store.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{state: map[string][]byte{}} }

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	respond := func(status int, body []byte, header http.Header) *http.Response {
		if header == nil {
			header = http.Header{}
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header, Request: req}
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.state {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.state[k]))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	}
	found := func(body []byte) http.Header {
		return http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/octet-stream"},
			"Etag":           {`"etag"`},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
	}
	switch req.Method {
	case http.MethodHead:
		if body, ok := f.state[key]; ok {
			return respond(http.StatusOK, nil, found(body)), nil
		}
		return respond(http.StatusNotFound, nil, nil), nil
	case http.MethodGet:
		if body, ok := f.state[key]; ok {
			return respond(http.StatusOK, body, found(body)), nil
		}
		return respond(http.StatusNotFound, nil, nil), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeAWSChunked(body)
		}
		f.state[key] = body
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(f.state, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

// decodeAWSChunked concatenates the data chunks of an aws-chunked payload,
// ignoring chunk signatures and trailers.
func decodeAWSChunked(b []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 {
			return out
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return out
		}
		out = append(out, chunk...)
		_, _ = r.ReadString('\n')
	}
}

func newTestS3(t *testing.T, prefix string) *S3 {
	t.Helper()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "snapshots",
		Endpoint:        "https://mock.s3.local",
		Prefix:          prefix,
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, &http.Client{Transport: newFakeS3()})
	require.NoError(t, err)
	return s
}

func drivers(t *testing.T) map[string]Store {
	fsStore, err := NewFilesystem(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
		"s3":     newTestS3(t, ""),
		"s3-pre": newTestS3(t, "jobs/"),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN an empty store
			_, err := s.Head(ctx, "20240301/base/0.build.snap")
			require.ErrorIs(t, err, ErrNotFound)
			_, _, err = s.Get(ctx, "20240301/base/0.build.snap")
			require.ErrorIs(t, err, ErrNotFound)

			// WHEN a blob is written
			payload := []byte("header\nbinary\r\nbody")
			info, err := s.Put(ctx, "20240301/base/0.build.snap", bytes.NewReader(payload), PutOptions{ContentType: "application/octet-stream"})
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), info.Size)

			// THEN it reads back byte for byte
			_, rc, err := s.Get(ctx, "20240301/base/0.build.snap")
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			head, err := s.Head(ctx, "20240301/base/0.build.snap")
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), head.Size)

			// AND a second write is refused
			_, err = s.Put(ctx, "20240301/base/0.build.snap", strings.NewReader("other"), PutOptions{})
			assert.ErrorIs(t, err, ErrExists)

			_, err = s.Put(ctx, "20240301/base/0/p/0.param.snap", strings.NewReader("p"), PutOptions{})
			require.NoError(t, err)
			_, err = s.Put(ctx, "20240302/base/0.build.snap", strings.NewReader("x"), PutOptions{})
			require.NoError(t, err)

			list, err := s.List(ctx, "20240301/")
			require.NoError(t, err)
			keys := make([]string, len(list))
			for i, inf := range list {
				keys[i] = inf.Key
			}
			assert.Equal(t, []string{"20240301/base/0.build.snap", "20240301/base/0/p/0.param.snap"}, keys)

			ok, err := s.Delete(ctx, "20240302/base/0.build.snap")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.Delete(ctx, "20240302/base/0.build.snap")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFilesystem_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "../x", "/abs", "a/../../b", "x.meta"} {
		_, err := s.Put(context.Background(), key, strings.NewReader("x"), PutOptions{})
		assert.Error(t, err, "key %q", key)
	}
}

func TestFilesystem_ConcurrentWritersOneWins(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Put(context.Background(), "k/v.snap", strings.NewReader("same"), PutOptions{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrExists)
		}
	}
	assert.Equal(t, 1, wins)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "k"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, Config{Driver: "s3"})
	assert.ErrorContains(t, err, "bucket")
	_, err = Open(ctx, Config{Driver: "tape"})
	assert.ErrorContains(t, err, "unknown blob driver")
}
