package refstack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmdln/refstack-client/api"
	"github.com/jcmdln/refstack-client/results"
	"github.com/jcmdln/refstack-client/subunit"
)

const testID = "tempest.api.identity.test_tokens.TokensV3Test.test_create_token"

// fakeCloud serves just enough of the identity API to hand out a cpid.
func fakeCloud(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"token": {"catalog": [{"type": "identity", "id": "test-cloud-id"}]}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeWorkspace builds a Tempest-shaped directory whose venv wrapper answers
// both discovery and run invocations from canned files.
func fakeWorkspace(t *testing.T, authURL string, stream []byte) (dir, confFile string) {
	t.Helper()
	dir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tools"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".stestr.conf"), []byte("[DEFAULT]\n"), 0o644))

	listing := testID + "[id-36d8c9d1,smoke]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "listing.txt"), []byte(listing), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream.subunit"), stream, 0o644))

	script := `#!/bin/sh
if [ "$2" = "list" ]; then
  cat listing.txt
else
  cat stream.subunit
fi
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools", "with_venv.sh"), []byte(script), 0o755))

	confFile = filepath.Join(dir, "etc", "tempest.conf")
	conf := fmt.Sprintf("[identity]\nuri_v3 = %s\nauth_version = v3\nusername = demo\npassword = secret\n", authURL)
	require.NoError(t, os.WriteFile(confFile, []byte(conf), 0o644))
	return dir, confFile
}

func stream(t *testing.T, status subunit.Status) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := subunit.NewWriter(&buf)
	require.NoError(t, w.Write(subunit.Event{Status: status, TestID: testID + "[id-36d8c9d1,smoke]"}))
	return buf.Bytes()
}

func guidelineFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guideline.json")
	doc := fmt.Sprintf(`[
		{"id": %q, "required": true},
		{"id": "tempest.api.identity.test_gone", "required": true}
	]`, testID)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestClientTest(t *testing.T) {
	cloud := fakeCloud(t)
	dir, conf := fakeWorkspace(t, cloud.URL, stream(t, subunit.StatusSuccess))
	resultDir := t.TempDir()

	client, err := New(&Config{
		TempestDir:   dir,
		ConfFile:     conf,
		GuidelineRef: guidelineFile(t),
		ResultDir:    resultDir,
		Quiet:        true,
		Log:          NewLogger("error"),
	})
	require.NoError(t, err)
	require.NoError(t, client.Test(context.Background()))

	files, err := filepath.Glob(filepath.Join(resultDir, "refstack-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	doc, err := results.Load(files[0])
	require.NoError(t, err)
	assert.Equal(t, "test-cloud-id", doc.CPID)
	assert.Equal(t, 1, doc.Stats.Passed)
	assert.Equal(t, testID, doc.Results[0].Name)
	assert.Equal(t, "36d8c9d1", doc.Results[0].UUID)
}

func TestClientTestFailuresExitOne(t *testing.T) {
	cloud := fakeCloud(t)
	dir, conf := fakeWorkspace(t, cloud.URL, stream(t, subunit.StatusFail))

	client, err := New(&Config{
		TempestDir: dir,
		ConfFile:   conf,
		ResultDir:  t.TempDir(),
		Quiet:      true,
		Log:        NewLogger("error"),
	})
	require.NoError(t, err)

	err = client.Test(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
}

func TestClientTestCorruptStreamSavesPartialResults(t *testing.T) {
	cloud := fakeCloud(t)
	corrupt := append(stream(t, subunit.StatusSuccess), []byte("\x00\x00torn mid-write")...)
	dir, conf := fakeWorkspace(t, cloud.URL, corrupt)
	resultDir := t.TempDir()

	client, err := New(&Config{
		TempestDir: dir,
		ConfFile:   conf,
		ResultDir:  resultDir,
		Quiet:      true,
		Log:        NewLogger("error"),
	})
	require.NoError(t, err)

	err = client.Test(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))

	// Everything decoded before the corruption is on disk.
	files, err := filepath.Glob(filepath.Join(resultDir, "refstack-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	doc, err := results.Load(files[0])
	require.NoError(t, err)
	assert.True(t, doc.Interrupted)
	assert.Equal(t, 1, doc.Stats.Passed)
	assert.Equal(t, "test-cloud-id", doc.CPID)
}

func TestClientTestBadConfIsRuntimeError(t *testing.T) {
	client, err := New(&Config{
		TempestDir: t.TempDir(),
		ConfFile:   filepath.Join(t.TempDir(), "missing.conf"),
		ResultDir:  t.TempDir(),
		Log:        NewLogger("error"),
	})
	require.NoError(t, err)

	err = client.Test(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestClientUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"test_id": "stored-1"}`)
	}))
	defer srv.Close()

	doc := &results.Document{CPID: "cloud-1"}
	doc.Append(results.Record{Name: testID, UUID: "36d8c9d1", Status: results.StatusPass})
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, doc.Save(path))

	client, err := New(&Config{ServerURL: srv.URL, Log: NewLogger("error")})
	require.NoError(t, err)
	require.NoError(t, client.Upload(context.Background(), path))

	// The local file is untouched and the upload can be repeated.
	require.NoError(t, client.Upload(context.Background(), path))
}

func TestClassifyUpload(t *testing.T) {
	var uploadErr *UploadError

	err := classifyUpload(&api.StatusError{Code: http.StatusForbidden, Status: "403 Forbidden"})
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, UploadAuth, uploadErr.Kind)

	err = classifyUpload(&api.StatusError{Code: http.StatusBadRequest, Status: "400 Bad Request"})
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, UploadRejected, uploadErr.Kind)

	err = classifyUpload(errors.New("connection refused"))
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, UploadNetwork, uploadErr.Kind)
}
