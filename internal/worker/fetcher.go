// fetcher.go — чтение файлов документов с локального диска.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bigkaa/docflow/internal/repository"
)

// LocalFetcher — FileFetcher поверх локальной файловой системы:
// FilePath документа трактуется как путь на диске.
type LocalFetcher struct {
	docs repository.DocumentRepository
}

// NewLocalFetcher создаёт fetcher поверх репозитория документов.
func NewLocalFetcher(docs repository.DocumentRepository) *LocalFetcher {
	return &LocalFetcher{docs: docs}
}

// Fetch разрешает documentID в FilePath и читает файл.
func (f *LocalFetcher) Fetch(ctx context.Context, documentID string) ([]byte, error) {
	doc, err := f.docs.Get(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("документ %s не найден", documentID)
		}
		return nil, err
	}
	data, err := os.ReadFile(doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("чтение файла %s: %w", doc.FilePath, err)
	}
	return data, nil
}
