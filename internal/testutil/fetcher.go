package testutil

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/zlib"

	"gutensync/internal/model"
)

// StubFetcher pretends to download every task it is given, handing each one
// to the save callback as a small compressed body. It records the task lists
// it saw, one entry per Fetch call.
type StubFetcher struct {
	Err   error // returned by Fetch before saving anything
	Tasks [][]model.DownloadTask
}

func NewStubFetcher() *StubFetcher {
	return &StubFetcher{}
}

func (f *StubFetcher) Fetch(ctx context.Context, tasks []model.DownloadTask, save func([]model.Download) error) (model.DownloadStats, error) {
	f.Tasks = append(f.Tasks, tasks)
	if f.Err != nil {
		return model.DownloadStats{}, f.Err
	}

	var batch []model.Download
	for _, task := range tasks {
		batch = append(batch, model.Download{
			BookID:       task.BookID,
			Body:         Compress(fmt.Sprintf("text of book %d\n", task.BookID)),
			URL:          fmt.Sprintf("http://mirror.example/%d", task.BookID),
			LastModified: task.CatalogModified,
		})
	}
	if len(batch) > 0 {
		if err := save(batch); err != nil {
			return model.DownloadStats{}, err
		}
	}
	return model.DownloadStats{Downloaded: len(batch)}, nil
}

// Compress zlib-compresses text the way stored book bodies are compressed.
func Compress(text string) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(text)) // in-memory writes cannot fail
	w.Close()
	return buf.Bytes()
}
