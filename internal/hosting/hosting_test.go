package hosting

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/weaver/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestURLHost(t *testing.T) {
	h := &URLHost{OutputDir: "/srv/wpsoutputs", OutputURL: "https://weaver.example.com/wpsoutputs/"}

	got, err := h.Host(context.Background(), "/srv/wpsoutputs/0b1c/step1/out.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://weaver.example.com/wpsoutputs/0b1c/step1/out.txt", got)

	got, err = h.Host(context.Background(), "file:///srv/wpsoutputs/0b1c/out.nc")
	require.NoError(t, err)
	assert.Equal(t, "https://weaver.example.com/wpsoutputs/0b1c/out.nc", got)

	_, err = h.Host(context.Background(), "/etc/passwd")
	assert.Error(t, err)
	_, err = h.Host(context.Background(), "/srv/wpsoutputs-other/x")
	assert.Error(t, err)
}

func TestFromSettingsDefaultsToURLHost(t *testing.T) {
	s := config.New(map[string]any{
		config.KeyURL:       "https://weaver.example.com/",
		config.KeyOutputDir: "/srv/out",
	})
	h, err := FromSettings(context.Background(), s, testLogger())
	require.NoError(t, err)
	require.IsType(t, &URLHost{}, h)
	assert.Equal(t, "https://weaver.example.com/wpsoutputs", h.(*URLHost).OutputURL)
}

type fakeUploader struct {
	bucket, key string
	body        []byte
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &manager.UploadOutput{Key: in.Key}, nil
}

func TestS3Host(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "job-1", "result.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	client := s3.New(s3.Options{
		Region:      "eu-west-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	})
	h := NewS3HostFromClient(client, "weaver-outputs", testLogger())
	h.Prefix = "wpsoutputs/"
	h.OutputDir = dir
	up := &fakeUploader{}
	h.uploader = up

	got, err := h.Host(context.Background(), "file://"+file)
	require.NoError(t, err)

	assert.Equal(t, "weaver-outputs", up.bucket)
	assert.Equal(t, "wpsoutputs/job-1/result.txt", up.key)
	assert.Equal(t, "hello", string(up.body))
	assert.Contains(t, got, "weaver-outputs")
	assert.Contains(t, got, "wpsoutputs/job-1/result.txt")
	assert.Contains(t, got, "X-Amz-Signature=")
}
