// Package remote defines the design hub data model and the collaborator
// interfaces the export engine consumes: the hierarchy reader, the document
// host and the artifact export backend.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"
)

// ErrConnectivity marks failures caused by a lost or unreliable connection to
// the hub. Callers match it with errors.Is.
var ErrConnectivity = errors.New("hub connectivity failure")

// ConnectivityError wraps err so that errors.Is(err, ErrConnectivity) holds.
func ConnectivityError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConnectivity, err)
}

// Reader enumerates the remote hierarchy.
type Reader interface {
	Hubs(ctx context.Context) ([]Hub, error)
	Projects(ctx context.Context, hub Hub) ([]Project, error)
	RootFolder(ctx context.Context, project Project) (Folder, error)
	Folders(ctx context.Context, folder Folder) ([]Folder, error)
	Files(ctx context.Context, folder Folder) ([]DataFile, error)
	// Refresh re-reads a file's metadata, notably its modification time.
	Refresh(ctx context.Context, file DataFile) (DataFile, error)
}

// DocumentHost opens data files into live documents.
type DocumentHost interface {
	Open(ctx context.Context, file DataFile) (Document, error)
}

// Document is an opened design. At most one is open at any time and it must
// be closed on every exit path.
type Document interface {
	Name() string
	Activate(ctx context.Context) error
	RootComponent(ctx context.Context) (*Component, error)
	Close(ctx context.Context, discardChanges bool) error
}

// Exporter writes single artifacts into the output filesystem. Paths are
// relative to fs. The caller checks for existing artifacts; implementations
// overwrite.
type Exporter interface {
	// ExportArchive writes the primary archive to base + "." + extension.
	ExportArchive(ctx context.Context, doc Document, fs billy.Filesystem, base, extension string) error
	ExportSTEP(ctx context.Context, doc Document, component *Component, fs billy.Filesystem, path string) error
	ExportDXF(ctx context.Context, doc Document, sketch Sketch, fs billy.Filesystem, path string) error
	// ExportSTL writes a component mesh when body is nil, else the single body.
	ExportSTL(ctx context.Context, doc Document, component *Component, body *Body, fs billy.Filesystem, path string) error
	ExportIGES(ctx context.Context, doc Document, component *Component, fs billy.Filesystem, path string) error
}
