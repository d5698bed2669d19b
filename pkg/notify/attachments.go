package notify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// DefaultContentType is used for attachments that do not name a type.
const DefaultContentType = "application/octet-stream"

// Attachments resolves attachment references against a filesystem.
// References are plain paths or file:// URIs.
type Attachments struct {
	fs afero.Fs
}

// NewAttachments creates a resolver over fsys. A nil fsys means the OS filesystem.
func NewAttachments(fsys afero.Fs) *Attachments {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Attachments{fs: fsys}
}

// Resolve checks that every attachment exists and is a regular file, and
// fills in its name, size and content type when they are missing.
func (a *Attachments) Resolve(ctx context.Context, attachments []core.Attachment) ([]core.Attachment, error) {
	out := make([]core.Attachment, len(attachments))
	for i, att := range attachments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := localPath(att.URI)
		if err != nil {
			return nil, err
		}
		info, err := a.fs.Stat(path)
		if err != nil {
			return nil, invalidAttachment(att.URI, err)
		}
		if !info.Mode().IsRegular() {
			return nil, invalidAttachment(att.URI, errors.New("not a regular file"))
		}

		if att.Name == "" {
			att.Name = filepath.Base(path)
		}
		if att.ContentType == "" {
			att.ContentType = DefaultContentType
		}
		att.Size = info.Size()
		out[i] = att
	}
	return out, nil
}

// Open opens the file behind att for reading.
func (a *Attachments) Open(att core.Attachment) (afero.File, error) {
	path, err := localPath(att.URI)
	if err != nil {
		return nil, err
	}
	return a.fs.Open(path)
}

func invalidAttachment(uri string, err error) error {
	return core.Invalid("attachments", fmt.Errorf("%w: %s: %v", core.ErrInvalidAttachment, uri, err))
}

// localPath turns an attachment URI into a filesystem path.
func localPath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return filepath.Clean(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", invalidAttachment(uri, err)
	}
	if u.Scheme != "file" {
		return "", invalidAttachment(uri, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	return filepath.Clean(u.Path), nil
}

// displayName is the file name a recipient sees.
func displayName(att core.Attachment) string {
	if att.Name != "" {
		return att.Name
	}
	if path, err := localPath(att.URI); err == nil {
		return filepath.Base(path)
	}
	return att.URI
}

// isNotExist reports whether err means the attachment is gone.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
