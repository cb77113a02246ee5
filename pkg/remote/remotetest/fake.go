// Package remotetest provides an in-memory design hub for tests. It
// implements remote.Reader, remote.DocumentHost and remote.Exporter, records
// every call and can inject failures.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kataras/total-export/pkg/remote"
)

// ErrOffline is a connectivity failure suitable for injection.
var ErrOffline = remote.ConnectivityError("fake hub", errors.New("offline"))

// Hub is a hub with its projects.
type Hub struct {
	remote.Hub
	Projects []*Project
}

// Project is a project with its root folder.
type Project struct {
	remote.Project
	Root *Folder
}

// Folder is a folder with its files and child folders.
type Folder struct {
	remote.Folder
	Files   []*File
	Folders []*Folder
}

// File is a data file with the component tree its document opens to.
type File struct {
	remote.DataFile
	Root *remote.Component
}

// Fake is an in-memory hub serving Tree. Failure queues are consumed one error per call;
// a nil entry means that call succeeds.
type Fake struct {
	Tree []*Hub

	HubsErrs     []error
	ProjectsErrs []error
	OpenErrs     map[string][]error // by file name
	ExportErrs   map[string][]error // by artifact path
	CloseErrs    map[string]error   // by file name

	// OnOpen runs before a document is opened.
	OnOpen func(file remote.DataFile)

	mu      sync.Mutex
	noRoot  map[string]bool
	calls   []string
	open    int
	maxOpen int
}

// Calls returns the recorded calls, e.g. "open Frame" or "export step a/b.stp".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CountCalls counts recorded calls equal to call.
func (f *Fake) CountCalls(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// MaxOpen is the largest number of documents open at the same time.
func (f *Fake) MaxOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen
}

// OpenDocuments is the number of documents currently open.
func (f *Fake) OpenDocuments() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func pop(queue map[string][]error, key string) error {
	errs := queue[key]
	if len(errs) == 0 {
		return nil
	}
	queue[key] = errs[1:]
	return errs[0]
}

func (f *Fake) Hubs(ctx context.Context) ([]remote.Hub, error) {
	f.record("hubs")
	if err := f.next(&f.HubsErrs); err != nil {
		return nil, err
	}

	hubs := make([]remote.Hub, 0, len(f.Tree))
	for _, h := range f.Tree {
		hubs = append(hubs, h.Hub)
	}
	return hubs, nil
}

// next consumes the head of queue.
func (f *Fake) next(queue *[]error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *Fake) Projects(ctx context.Context, hub remote.Hub) ([]remote.Project, error) {
	f.record("projects %s", hub.Name)
	if err := f.next(&f.ProjectsErrs); err != nil {
		return nil, err
	}
	for _, h := range f.Tree {
		if h.ID != hub.ID {
			continue
		}
		projects := make([]remote.Project, 0, len(h.Projects))
		for _, p := range h.Projects {
			project := p.Project
			project.HubName = h.Name
			if p.Root != nil {
				project.RootFolderID = p.Root.ID
			}
			projects = append(projects, project)
		}
		return projects, nil
	}
	return nil, fmt.Errorf("hub %q not found", hub.ID)
}

func (f *Fake) RootFolder(ctx context.Context, project remote.Project) (remote.Folder, error) {
	folder := f.folder(project.RootFolderID)
	if folder == nil {
		return remote.Folder{}, fmt.Errorf("root folder of project %q not found", project.Name)
	}
	return folder.Folder, nil
}

func (f *Fake) Folders(ctx context.Context, folder remote.Folder) ([]remote.Folder, error) {
	node := f.folder(folder.ID)
	if node == nil {
		return nil, fmt.Errorf("folder %q not found", folder.ID)
	}
	folders := make([]remote.Folder, 0, len(node.Folders))
	for _, child := range node.Folders {
		folders = append(folders, child.Folder)
	}
	return folders, nil
}

func (f *Fake) Files(ctx context.Context, folder remote.Folder) ([]remote.DataFile, error) {
	node := f.folder(folder.ID)
	if node == nil {
		return nil, fmt.Errorf("folder %q not found", folder.ID)
	}
	files := make([]remote.DataFile, 0, len(node.Files))
	for _, file := range node.Files {
		files = append(files, file.DataFile)
	}
	return files, nil
}

func (f *Fake) Refresh(ctx context.Context, file remote.DataFile) (remote.DataFile, error) {
	f.record("refresh %s", file.Name)
	node := f.file(file.ID)
	if node == nil {
		return file, fmt.Errorf("file %q not found", file.ID)
	}
	return node.DataFile, nil
}

func (f *Fake) Open(ctx context.Context, file remote.DataFile) (remote.Document, error) {
	if f.OnOpen != nil {
		f.OnOpen(file)
	}
	f.record("open %s", file.Name)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pop(f.OpenErrs, file.Name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
	f.mu.Unlock()

	root := &remote.Component{ID: file.ID + "-root", Name: file.Name}
	if node := f.file(file.ID); node != nil && node.Root != nil {
		root = node.Root
	}
	return &Document{fake: f, file: file, root: root}, nil
}

func (f *Fake) write(kind string, fs billy.Filesystem, filename string) error {
	f.record("export %s %s", kind, filename)
	if err := pop(f.ExportErrs, filename); err != nil {
		return err
	}
	if err := fs.MkdirAll(path.Dir(filename), 0o755); err != nil {
		return err
	}
	return util.WriteFile(fs, filename, []byte(kind+"\n"), 0o644)
}

func (f *Fake) ExportArchive(ctx context.Context, doc remote.Document, fs billy.Filesystem, base, extension string) error {
	return f.write("archive", fs, base+"."+extension)
}

func (f *Fake) ExportSTEP(ctx context.Context, doc remote.Document, component *remote.Component, fs billy.Filesystem, filename string) error {
	return f.write("step", fs, filename)
}

func (f *Fake) ExportDXF(ctx context.Context, doc remote.Document, sketch remote.Sketch, fs billy.Filesystem, filename string) error {
	return f.write("dxf", fs, filename)
}

func (f *Fake) ExportSTL(ctx context.Context, doc remote.Document, component *remote.Component, body *remote.Body, fs billy.Filesystem, filename string) error {
	return f.write("stl", fs, filename)
}

func (f *Fake) ExportIGES(ctx context.Context, doc remote.Document, component *remote.Component, fs billy.Filesystem, filename string) error {
	return f.write("iges", fs, filename)
}

func (f *Fake) folder(id string) *Folder {
	for _, h := range f.Tree {
		for _, p := range h.Projects {
			if found := findFolder(p.Root, id); found != nil {
				return found
			}
		}
	}
	return nil
}

func findFolder(folder *Folder, id string) *Folder {
	if folder == nil {
		return nil
	}
	if folder.ID == id {
		return folder
	}
	for _, child := range folder.Folders {
		if found := findFolder(child, id); found != nil {
			return found
		}
	}
	return nil
}

func (f *Fake) file(id string) *File {
	for _, h := range f.Tree {
		for _, p := range h.Projects {
			if found := findFile(p.Root, id); found != nil {
				return found
			}
		}
	}
	return nil
}

func findFile(folder *Folder, id string) *File {
	if folder == nil {
		return nil
	}
	for _, file := range folder.Files {
		if file.ID == id {
			return file
		}
	}
	for _, child := range folder.Folders {
		if found := findFile(child, id); found != nil {
			return found
		}
	}
	return nil
}

// Document is an opened fake document.
type Document struct {
	fake   *Fake
	file   remote.DataFile
	root   *remote.Component
	closed bool
}

// NoRoot makes RootComponent of the named files return no component.
func (f *Fake) NoRoot(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noRoot == nil {
		f.noRoot = make(map[string]bool)
	}
	for _, name := range names {
		f.noRoot[name] = true
	}
}

func (d *Document) Name() string { return d.file.Name }

func (d *Document) Activate(ctx context.Context) error {
	d.fake.record("activate %s", d.file.Name)
	return nil
}

func (d *Document) RootComponent(ctx context.Context) (*remote.Component, error) {
	d.fake.mu.Lock()
	defer d.fake.mu.Unlock()
	if d.fake.noRoot[d.file.Name] {
		return nil, nil
	}
	return d.root, nil
}

func (d *Document) Close(ctx context.Context, discardChanges bool) error {
	d.fake.record("close %s discard=%t", d.file.Name, discardChanges)
	if !d.closed {
		d.closed = true
		d.fake.mu.Lock()
		d.fake.open--
		d.fake.mu.Unlock()
	}
	return d.fake.CloseErrs[d.file.Name]
}
