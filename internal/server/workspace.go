package server

import (
	"fmt"
	"math"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/ironsheep/density-tools-mcp/internal/session"
)

// workspace is the loaded image: its object hierarchy, the build session
// watching it and an optional background image.
type workspace struct {
	hierarchy   *objects.Hierarchy
	session     *session.Session
	unsubscribe func()
	data        densitymap.ImageData
	background  string
}

func (w *workspace) close() {
	w.session.Close()
	w.unsubscribe()
	w.hierarchy.Close()
}

// openWorkspace replaces the current workspace with a fresh hierarchy
// holding objs, keeping any IDs they carry. A zero width or height is
// derived from the object bounds.
func (s *Server) openWorkspace(objs []*objects.Object, width, height int, pixelSize float64, plane objects.Plane, background string) *workspace {
	if width <= 0 || height <= 0 {
		w, h := extent(objs)
		if width <= 0 {
			width = w
		}
		if height <= 0 {
			height = h
		}
	}

	h := objects.NewHierarchy(width, height)
	h.Restore(objs...)
	events, unsubscribe := h.Subscribe()

	data := densitymap.ImageData{
		Width:     width,
		Height:    height,
		PixelSize: pixelSize,
		Plane:     plane,
		Index:     h,
	}
	ws := &workspace{
		hierarchy:   h,
		session:     session.New(s.log, s.builder, data, session.WithEvents(events), session.WithDebounce(s.cfg.Debounce)),
		unsubscribe: unsubscribe,
		data:        data,
		background:  background,
	}

	s.mu.Lock()
	old := s.workspace
	s.workspace = ws
	s.mu.Unlock()
	if old != nil {
		old.close()
		if r := old.session.Current(); r != nil {
			s.renderer.Forget(r.ID())
		}
	}
	s.log.Info().
		Int("objects", h.Len()).
		Int("width", width).
		Int("height", height).
		Msg("workspace loaded")
	return ws
}

func (s *Server) current() (*workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workspace == nil {
		return nil, fmt.Errorf("no objects loaded: call objects_load or objects_load_db first")
	}
	return s.workspace, nil
}

// raster finds a density map by ID, or the latest one built for the
// workspace when id is empty.
func (s *Server) raster(id string) (*densitymap.Raster, error) {
	if id != "" {
		if r, ok := s.rasters.Get(id); ok {
			return r, nil
		}
	}
	ws, err := s.current()
	if err != nil {
		return nil, err
	}
	cur := ws.session.Current()
	switch {
	case cur == nil:
		return nil, fmt.Errorf("no density map built: call density_build first")
	case id != "" && cur.ID().String() != id:
		return nil, fmt.Errorf("unknown density map %q", id)
	}
	return cur, nil
}

// extent returns the image size covering every object bound.
func extent(objs []*objects.Object) (int, int) {
	w, h := 1, 1
	for _, o := range objs {
		b := o.Bound()
		w = max(w, int(math.Ceil(b.Max[0])))
		h = max(h, int(math.Ceil(b.Max[1])))
	}
	return w, h
}
