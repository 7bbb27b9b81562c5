// Package botfile materializes media referenced by Bot API file IDs into
// local temp files so they can be re-uploaded through a user session.
package botfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

// api is the slice of *tele.Bot the fetcher needs.
type api interface {
	FileByID(fileID string) (tele.File, error)
	File(file *tele.File) (io.ReadCloser, error)
}

type Fetcher struct {
	bot api
	dir string
	log logx.Logger
}

// NewFetcher stores downloads under dir; empty dir means the OS temp dir.
func NewFetcher(bot api, dir string, log logx.Logger) *Fetcher {
	return &Fetcher{bot: bot, dir: dir, log: log}
}

// Materialize downloads the file behind fileID into a fresh temp file and
// returns its path together with a cleanup func. Cleanup is safe to call
// more than once.
func (f *Fetcher) Materialize(fileID string, kind userclient.MediaKind) (string, func(), error) {
	file, err := f.bot.FileByID(fileID)
	if err != nil {
		return "", nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	rc, err := f.bot.File(&file)
	if err != nil {
		return "", nil, fmt.Errorf("open file %s: %w", fileID, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(f.dir, "relaybot-*"+extFor(file.FilePath, kind))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}

	path := tmp.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			f.log.Warn("temp file cleanup failed", logx.String("path", path), logx.Err(err))
		}
	}
	return path, cleanup, nil
}

// extFor prefers the extension Telegram reports for the stored file and
// falls back to a conventional one for the media kind.
func extFor(remotePath string, kind userclient.MediaKind) string {
	if ext := filepath.Ext(remotePath); ext != "" {
		return ext
	}
	return kind.Ext()
}
