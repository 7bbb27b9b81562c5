package botfile

import (
	"io"
	"os"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

type fakeAPI struct {
	filePath string
	body     string
	fileErr  error
}

func (f *fakeAPI) FileByID(fileID string) (tele.File, error) {
	if f.fileErr != nil {
		return tele.File{}, f.fileErr
	}
	return tele.File{FileID: fileID, FilePath: f.filePath}, nil
}

func (f *fakeAPI) File(file *tele.File) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestMaterializeWritesAndCleansUp(t *testing.T) {
	t.Parallel()
	fx := NewFetcher(&fakeAPI{filePath: "photos/file_1.jpg", body: "payload"}, t.TempDir(), logx.Nop())

	path, cleanup, err := fx.Materialize("abc", userclient.KindPhoto)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("temp file contents = %q", data)
	}
	if !strings.HasSuffix(path, ".jpg") {
		t.Fatalf("path %q should carry the remote extension", path)
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("cleanup left the temp file behind")
	}
	cleanup() // second call is a no-op
}

func TestExtFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		remote string
		kind   userclient.MediaKind
		want   string
	}{
		{"videos/file_2.mp4", userclient.KindVideo, ".mp4"},
		{"file_3", userclient.KindVoice, ".ogg"},
		{"", userclient.KindPhoto, ".jpg"},
	}
	for _, tc := range cases {
		if got := extFor(tc.remote, tc.kind); got != tc.want {
			t.Errorf("extFor(%q, %s) = %q, want %q", tc.remote, tc.kind, got, tc.want)
		}
	}
}
