package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yoanbernabeu/sshconnector/internal/shell"
)

// Files implements file operations on top of remote commands. Every
// operation succeeds iff the remote command exits 0; the Result is returned
// so callers can inspect the code.
//
// With a password sudo policy the commands run on a PTY, so transfers are not
// byte-exact: output line endings may become CRLF and input is line-buffered.
// Use the non-interactive policy for file transfers that need elevation.
type Files struct {
	exec Executor
	sudo shell.Sudo

	// Diagnostics receives the remote stderr of file commands when set.
	Diagnostics io.Writer
}

// NewFiles returns file operations that run through exec with the given
// elevation policy.
func NewFiles(exec Executor, sudo shell.Sudo) *Files {
	return &Files{exec: exec, sudo: sudo}
}

func (f *Files) request(cmd shell.Command) *Request {
	return &Request{
		Command:    cmd,
		Sudo:       f.sudo,
		Stderr:     &bytes.Buffer{},
		LiveStderr: f.Diagnostics,
	}
}

// Download streams the remote file at path into w.
func (f *Files) Download(ctx context.Context, path string, w io.Writer) (*Result, error) {
	cmd, err := shell.Cat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid download path: %w", err)
	}
	req := f.request(cmd)
	req.LiveStdout = w
	return f.exec.Execute(ctx, req)
}

// Upload writes the bytes produced by write into the remote file at path.
// write is called once the remote command is running; the remote stdin is
// closed when it returns.
func (f *Files) Upload(ctx context.Context, path string, write func(w io.Writer) error) (*Result, error) {
	cmd, err := shell.CatInto(path)
	if err != nil {
		return nil, fmt.Errorf("invalid upload path: %w", err)
	}
	req := f.request(cmd)
	req.Input = write
	return f.exec.Execute(ctx, req)
}

// Delete removes the remote file at path.
func (f *Files) Delete(ctx context.Context, path string) (*Result, error) {
	cmd, err := shell.Remove(path)
	if err != nil {
		return nil, fmt.Errorf("invalid delete path: %w", err)
	}
	return f.exec.Execute(ctx, f.request(cmd))
}

// Stat is not provided for SSH targets.
func (f *Files) Stat(ctx context.Context, path string, followSymlink bool) (os.FileInfo, error) {
	return nil, &NotImplementedError{Op: "stat"}
}

// Sync is not provided for SSH targets.
func (f *Files) Sync(ctx context.Context, localPath, remotePath string) error {
	return &NotImplementedError{Op: "sync"}
}

// UploadFile uploads a local file to the remote server
func (f *Files) UploadFile(ctx context.Context, localPath, remotePath string) (*Result, error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	return f.Upload(ctx, remotePath, func(w io.Writer) error {
		_, err := io.Copy(w, localFile)
		return err
	})
}

// UploadContent uploads content directly to a remote file
func (f *Files) UploadContent(ctx context.Context, content []byte, remotePath string) (*Result, error) {
	return f.Upload(ctx, remotePath, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
}

// DownloadFile downloads a remote file to the local filesystem.
// The local file is only kept when the remote command succeeds.
func (f *Files) DownloadFile(ctx context.Context, remotePath, localPath string) (*Result, error) {
	localDir := filepath.Dir(localPath)
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local directory: %w", err)
	}

	tmp, err := os.CreateTemp(localDir, "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create local file: %w", err)
	}
	defer os.Remove(tmp.Name())

	result, err := f.Download(ctx, remotePath, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to write local file: %w", closeErr)
	}
	if err != nil || !result.Success() {
		return result, err
	}

	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return result, fmt.Errorf("failed to write local file: %w", err)
	}
	return result, nil
}
