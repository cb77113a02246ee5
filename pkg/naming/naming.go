// Package naming turns remote hub, project, folder, file and component names
// into safe path segments and derives the deterministic export layout.
package naming

import (
	"path"
	"strings"
)

// reservedSuffixes are the artifact extensions the exporter itself writes.
// A sanitized name ending in one of them gets its dot replaced so that a
// directory segment can never be mistaken for a generated artifact file.
var reservedSuffixes = []string{".stp", ".stl", ".igs"}

// Sanitize removes every character outside [A-Za-z0-9 \n.], trims the
// surrounding whitespace and rewrites a trailing ".stp", ".stl" or ".igs"
// to "_stp", "_stl" or "_igs".
func Sanitize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	for _, r := range name {
		if isAllowed(r) {
			sb.WriteRune(r)
		}
	}

	result := strings.TrimSpace(sb.String())
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(result, suffix) {
			result = result[:len(result)-4] + "_" + result[len(result)-3:]
			break
		}
	}

	return result
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '\n', r == '.':
		return true
	}
	return false
}

// HubDir returns the directory segment of a hub.
func HubDir(hubName string) string {
	return "Hub " + Sanitize(hubName)
}

// ProjectDir returns the directory segment of a project.
func ProjectDir(projectName string) string {
	return "Project " + Sanitize(projectName)
}

// ProjectPath returns the output-root relative directory of a project.
func ProjectPath(hubName, projectName string) string {
	return path.Join(HubDir(hubName), ProjectDir(projectName))
}

// Target holds the output-root relative locations for one exported file.
// Paths use forward slashes; the go-billy filesystems accept them on every
// platform.
type Target struct {
	// FileDir is the directory holding every artifact of the file,
	// e.g. "Hub Acme/Project Rover/Root/Chassis/Frame.f3d".
	FileDir string
	// ArchiveBase is the archive path without its extension.
	ArchiveBase string
	// Archive is the primary archive path.
	Archive string
}

// NewTarget derives the export target of a data file. folderPath lists the
// raw folder names from the project's root folder down to the file's parent.
func NewTarget(hubName, projectName string, folderPath []string, fileName, extension string) Target {
	segments := make([]string, 0, len(folderPath)+3)
	segments = append(segments, HubDir(hubName), ProjectDir(projectName))
	for _, folder := range folderPath {
		segments = append(segments, Sanitize(folder))
	}

	file := Sanitize(fileName)
	segments = append(segments, file+"."+extension)

	dir := path.Join(segments...)
	base := path.Join(dir, file)

	return Target{
		FileDir:     dir,
		ArchiveBase: base,
		Archive:     base + "." + extension,
	}
}
