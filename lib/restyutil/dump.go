// Package restyutil writes the traffic of resty clients out for debugging.
package restyutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string)
}

// FilesystemOutput writes every message to its own file in a directory.
type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput empties (or creates) dir and writes messages to it.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

// Dump writes every response and failed request of client to output, as
// `<name>-<n>.txt` with n counting up from 1. A nil output does nothing.
func Dump(client *resty.Client, name string, output Output) {
	if output == nil {
		return
	}
	var counter uint64
	nextId := func() string {
		return fmt.Sprintf("%s-%d.txt", name, atomic.AddUint64(&counter, 1))
	}

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		output.Write(nextId(), formatHttpMessage(res))
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		output.Write(nextId(), formatFailure(req, err))
	})
}
