package hubclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/kataras/total-export/pkg/remote"
	"github.com/kataras/total-export/pkg/retry"
)

// Document is a design opened on the hub.
type Document struct {
	client *Client
	ID     string `json:"id"`
	Title  string `json:"name"`
}

// Name returns the document name.
func (d *Document) Name() string { return d.Title }

// Activate makes the document the hub's active document.
func (d *Document) Activate(ctx context.Context) error {
	return d.client.sendJSON(ctx, http.MethodPost, "/documents/"+segment(d.ID)+"/activate", nil, nil)
}

// RootComponent loads the document's component tree.
func (d *Document) RootComponent(ctx context.Context) (*remote.Component, error) {
	var root remote.Component
	if err := d.client.getJSON(ctx, "/documents/"+segment(d.ID)+"/components", nil, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Close closes the document, discarding unsaved changes when asked.
func (d *Document) Close(ctx context.Context, discardChanges bool) error {
	query := url.Values{}
	if discardChanges {
		query.Set("discard", "true")
	}
	return d.client.sendJSON(ctx, http.MethodDelete, "/documents/"+segment(d.ID), query, nil)
}

// Open opens file as a document.
func (c *Client) Open(ctx context.Context, file remote.DataFile) (remote.Document, error) {
	doc := &Document{client: c}
	if err := c.sendJSON(ctx, http.MethodPost, "/files/"+segment(file.ID)+"/documents", nil, doc); err != nil {
		return nil, err
	}
	if doc.Title == "" {
		doc.Title = file.Name
	}
	return doc, nil
}

func (c *Client) document(doc remote.Document) (*Document, error) {
	d, ok := doc.(*Document)
	if !ok || d.client != c {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", errForeignDocument, doc.Name()))
	}
	return d, nil
}

// ExportArchive downloads the primary archive to base + "." + extension.
func (c *Client) ExportArchive(ctx context.Context, doc remote.Document, fs billy.Filesystem, base, extension string) error {
	d, err := c.document(doc)
	if err != nil {
		return err
	}
	return c.download(ctx, "/documents/"+segment(d.ID)+"/exports/archive", nil, fs, base+"."+extension)
}

// ExportSTEP downloads the STEP file of component.
func (c *Client) ExportSTEP(ctx context.Context, doc remote.Document, component *remote.Component, fs billy.Filesystem, path string) error {
	d, err := c.document(doc)
	if err != nil {
		return err
	}
	return c.download(ctx, "/documents/"+segment(d.ID)+"/exports/step", url.Values{"component": {component.ID}}, fs, path)
}

// ExportDXF downloads the DXF file of sketch.
func (c *Client) ExportDXF(ctx context.Context, doc remote.Document, sketch remote.Sketch, fs billy.Filesystem, path string) error {
	d, err := c.document(doc)
	if err != nil {
		return err
	}
	return c.download(ctx, "/documents/"+segment(d.ID)+"/exports/dxf", url.Values{"sketch": {sketch.ID}}, fs, path)
}

// ExportSTL downloads the mesh of component, or of body when it is not nil.
func (c *Client) ExportSTL(ctx context.Context, doc remote.Document, component *remote.Component, body *remote.Body, fs billy.Filesystem, path string) error {
	d, err := c.document(doc)
	if err != nil {
		return err
	}
	query := url.Values{"component": {component.ID}}
	if body != nil {
		query = url.Values{"body": {body.ID}}
	}
	return c.download(ctx, "/documents/"+segment(d.ID)+"/exports/stl", query, fs, path)
}

// ExportIGES downloads the IGES file of component.
func (c *Client) ExportIGES(ctx context.Context, doc remote.Document, component *remote.Component, fs billy.Filesystem, path string) error {
	d, err := c.document(doc)
	if err != nil {
		return err
	}
	return c.download(ctx, "/documents/"+segment(d.ID)+"/exports/iges", url.Values{"component": {component.ID}}, fs, path)
}

// download streams an export into dest on fs. A partially written file is
// removed so that it is never mistaken for a finished artifact.
func (c *Client) download(ctx context.Context, path string, query url.Values, fs billy.Filesystem, dest string) error {
	resp, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", dest, err)
	}

	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = fs.Remove(dest)
		if copyErr != nil {
			return remote.ConnectivityError("GET "+path, fmt.Errorf("failed to write file %q: %w", dest, copyErr))
		}
		return fmt.Errorf("failed to write file %q: %w", dest, closeErr)
	}

	return nil
}
