package tracking

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ModelRef is a parsed model URI.
type ModelRef struct {
	// Name and Version are set for models:/ URIs. Version 0 means latest.
	Name    string
	Version int
	// RunID and Artifact are set for runs:/ URIs.
	RunID    string
	Artifact string
	// Path is set for filesystem URIs.
	Path string
}

// IsRegistry reports whether the reference points into the model registry.
func (r ModelRef) IsRegistry() bool { return r.Name != "" }

// IsRun reports whether the reference points at a run artifact.
func (r ModelRef) IsRun() bool { return r.RunID != "" }

// ParseModelURI parses models:/<name>/<version|latest>,
// runs:/<run_id>/<artifact path> or a filesystem path.
func ParseModelURI(uri string) (ModelRef, error) {
	switch {
	case strings.HasPrefix(uri, "models:/"):
		parts := strings.Split(strings.Trim(strings.TrimPrefix(uri, "models:/"), "/"), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ModelRef{}, fmt.Errorf("model URI %q must be models:/<name>/<version|latest>", uri)
		}
		ref := ModelRef{Name: parts[0]}
		if parts[1] == "latest" {
			return ref, nil
		}
		v, err := strconv.Atoi(parts[1])
		if err != nil || v < 1 {
			return ModelRef{}, fmt.Errorf("model URI %q has an invalid version %q", uri, parts[1])
		}
		ref.Version = v
		return ref, nil
	case strings.HasPrefix(uri, "runs:/"):
		id, artifact, _ := strings.Cut(strings.Trim(strings.TrimPrefix(uri, "runs:/"), "/"), "/")
		if id == "" || artifact == "" {
			return ModelRef{}, fmt.Errorf("model URI %q must be runs:/<run_id>/<artifact path>", uri)
		}
		return ModelRef{RunID: id, Artifact: runArtifact(artifact)}, nil
	case strings.HasPrefix(uri, "file:"):
		return ModelRef{Path: filePath(uri)}, nil
	case strings.Contains(uri, ":/"):
		return ModelRef{}, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	case uri == "":
		return ModelRef{}, fmt.Errorf("model URI is empty")
	default:
		return ModelRef{Path: uri}, nil
	}
}

// runs:/<id>/model は model/model.json を指す
func runArtifact(p string) string {
	p = path.Clean(p)
	if path.Ext(p) == ".json" {
		return p
	}
	return path.Join(p, path.Base(ModelArtifact))
}
