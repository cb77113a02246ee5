package traversal

import (
	"fmt"
	"path"
	"strings"

	"github.com/kataras/total-export/pkg/naming"
	"github.com/kataras/total-export/pkg/remote"
)

// ArtifactKind is the format of a derived artifact.
type ArtifactKind int

const (
	KindArchive ArtifactKind = iota
	KindSTEP
	KindDXF
	KindSTL
	KindIGES
)

func (k ArtifactKind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindSTEP:
		return "step"
	case KindDXF:
		return "dxf"
	case KindSTL:
		return "stl"
	case KindIGES:
		return "iges"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Extension is the file extension written for the kind, without the dot.
// Archives keep the data file's own extension and return "".
func (k ArtifactKind) Extension() string {
	switch k {
	case KindSTEP:
		return "stp"
	case KindDXF:
		return "dxf"
	case KindSTL:
		return "stl"
	case KindIGES:
		return "igs"
	default:
		return ""
	}
}

// Artifact is one planned output file. Component is set for STEP, IGES and
// STL artifacts, Sketch for DXF and Body for per-body STL artifacts.
type Artifact struct {
	Kind      ArtifactKind
	Path      string
	Component *remote.Component
	Sketch    *remote.Sketch
	Body      *remote.Body
	// BestEffort artifacts are logged on failure but never count as issues.
	BestEffort bool
}

// Layout decides where a component's own files sit relative to the
// directory holding its sketches and children.
type Layout int

const (
	// LayoutObserved writes the STEP file beside the component directory:
	// base/<c>.stp, base/<c>/<sketch>.dxf.
	LayoutObserved Layout = iota
	// LayoutNested writes it inside: base/<c>/<c>.stp, base/<c>/<sketch>.dxf.
	LayoutNested
)

func (l Layout) String() string {
	if l == LayoutNested {
		return "nested"
	}
	return "observed"
}

// ParseLayout accepts "observed" (or "") and "nested".
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "observed":
		return LayoutObserved, nil
	case "nested":
		return LayoutNested, nil
	default:
		return LayoutObserved, fmt.Errorf("unknown layout %q (want observed or nested)", s)
	}
}

// Formats selects the component artifacts to plan.
type Formats struct {
	STEP bool
	DXF  bool
	STL  bool
	IGES bool
}

// DefaultFormats plans STEP and DXF artifacts only.
func DefaultFormats() Formats {
	return Formats{STEP: true, DXF: true}
}

// ParseFormats parses a list such as ["step", "dxf"]. Entries may also be
// comma separated. An empty list yields DefaultFormats.
func ParseFormats(values []string) (Formats, error) {
	var (
		f   Formats
		seen bool
	)
	for _, value := range values {
		for _, name := range strings.Split(value, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			switch name {
			case "":
				continue
			case "step", "stp":
				f.STEP = true
			case "dxf":
				f.DXF = true
			case "stl":
				f.STL = true
			case "iges", "igs":
				f.IGES = true
			default:
				return Formats{}, fmt.Errorf("unknown format %q", name)
			}
			seen = true
		}
	}

	if !seen {
		return DefaultFormats(), nil
	}
	return f, nil
}

// Names lists the enabled formats in a stable order.
func (f Formats) Names() []string {
	var names []string
	if f.STEP {
		names = append(names, "step")
	}
	if f.DXF {
		names = append(names, "dxf")
	}
	if f.STL {
		names = append(names, "stl")
	}
	if f.IGES {
		names = append(names, "iges")
	}
	return names
}

// WalkOptions configures WalkComponent.
type WalkOptions struct {
	Layout  Layout
	Formats Formats
}

// WalkComponent plans the artifacts of component and its sub-components
// below base. Per component the order is STEP, IGES, STL, one DXF per sketch,
// then each occurrence's component in turn. A component referenced by several
// occurrences is planned once per occurrence, at the same paths.
func WalkComponent(component *remote.Component, base string, opts WalkOptions) []Artifact {
	if component == nil {
		return nil
	}

	name := naming.Sanitize(component.Name)
	dir := path.Join(base, name)

	own := dir
	if opts.Layout == LayoutNested {
		own = path.Join(dir, name)
	}

	var plan []Artifact
	if opts.Formats.STEP {
		plan = append(plan, Artifact{Kind: KindSTEP, Path: own + ".stp", Component: component})
	}
	if opts.Formats.IGES {
		plan = append(plan, Artifact{Kind: KindIGES, Path: own + ".igs", Component: component})
	}
	if opts.Formats.STL {
		plan = append(plan, Artifact{Kind: KindSTL, Path: own + ".stl", Component: component})
		for i := range component.Bodies {
			body := &component.Bodies[i]
			plan = append(plan, Artifact{
				Kind:       KindSTL,
				Path:       path.Join(dir, naming.Sanitize(body.Name)+".stl"),
				Component:  component,
				Body:       body,
				BestEffort: true,
			})
		}
	}
	if opts.Formats.DXF {
		for i := range component.Sketches {
			sketch := &component.Sketches[i]
			plan = append(plan, Artifact{
				Kind:   KindDXF,
				Path:   path.Join(dir, naming.Sanitize(sketch.Name)+".dxf"),
				Sketch: sketch,
			})
		}
	}

	for _, occurrence := range component.Occurrences {
		plan = append(plan, WalkComponent(occurrence.Component, dir, opts)...)
	}

	return plan
}
