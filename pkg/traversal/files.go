// Package traversal walks the remote hierarchy. CollectFiles flattens a
// project's folder tree into file records; WalkComponent turns a design's
// component tree into an ordered plan of artifacts to write.
package traversal

import (
	"context"
	"fmt"

	"github.com/kataras/total-export/pkg/remote"
)

// FileRecord is a data file together with the raw names of the folders from
// the project root folder (inclusive) down to the file's parent.
type FileRecord struct {
	File       remote.DataFile
	FolderPath []string
}

// CollectFiles returns every file below folder: the files of a folder come
// first, in reader order, followed by the files of each child folder,
// depth-first.
func CollectFiles(ctx context.Context, reader remote.Reader, folder remote.Folder) ([]FileRecord, error) {
	return collect(ctx, reader, folder, nil)
}

func collect(ctx context.Context, reader remote.Reader, folder remote.Folder, parents []string) ([]FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folderPath := make([]string, len(parents)+1)
	copy(folderPath, parents)
	folderPath[len(parents)] = folder.Name

	files, err := reader.Files(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("listing files of folder %q: %w", folder.Name, err)
	}

	records := make([]FileRecord, 0, len(files))
	for _, file := range files {
		records = append(records, FileRecord{File: file, FolderPath: folderPath})
	}

	children, err := reader.Folders(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("listing folders of folder %q: %w", folder.Name, err)
	}

	for _, child := range children {
		nested, err := collect(ctx, reader, child, folderPath)
		if err != nil {
			return nil, err
		}
		records = append(records, nested...)
	}

	return records, nil
}
