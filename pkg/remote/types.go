package remote

// Hub is the top-level namespace grouping projects.
type Hub struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project is a named container of a folder tree and the unit of resumability.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	HubName      string `json:"-"`
	RootFolderID string `json:"rootFolderId"`
}

// Folder is a node of a project's folder tree. Children are enumerated
// lazily through Reader.Folders and Reader.Files.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DataFile is a remote design document.
// Modified is normalized once when the file is read from the hub.
type DataFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Extension string    `json:"fileExtension"`
	Modified  Timestamp `json:"dateModified"`
}

// Component is a node of a design's part/assembly tree. The same component
// can be referenced by several occurrences.
type Component struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Sketches    []Sketch     `json:"sketches,omitempty"`
	Bodies      []Body       `json:"bodies,omitempty"`
	Occurrences []Occurrence `json:"occurrences,omitempty"`
}

// Occurrence is an instance of a component placed within a parent component.
type Occurrence struct {
	Name      string     `json:"name"`
	Component *Component `json:"component"`
}

// Sketch is a 2D sketch owned by a component.
type Sketch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Body is a solid (B-Rep) or mesh body owned by a component.
type Body struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mesh bool   `json:"mesh,omitempty"`
}
