package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/ironsheep/density-tools-mcp/internal/contours"
	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/hotspots"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/ironsheep/density-tools-mcp/internal/render"
)

// channelArgs selects a raster channel by index or name.
type channelArgs struct {
	Channel     int    `json:"channel"`
	ChannelName string `json:"channel_name"`
}

func (a channelArgs) resolve(r *densitymap.Raster) (int, error) {
	if a.ChannelName != "" {
		c, ok := r.ChannelIndex(a.ChannelName)
		if !ok {
			return 0, fmt.Errorf("unknown channel %q (available: %s)", a.ChannelName, strings.Join(r.ChannelNames(), ", "))
		}
		return c, nil
	}
	if a.Channel < 0 || a.Channel >= r.NumChannels() {
		return 0, fmt.Errorf("channel %d out of range [0, %d)", a.Channel, r.NumChannels())
	}
	return a.Channel, nil
}

type rasterInfo struct {
	ID          string           `json:"raster_id"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Downsample  float64          `json:"downsample"`
	PixelSize   float64          `json:"pixel_size"`
	Channels    []string         `json:"channels"`
	FailedTiles int              `json:"failed_tiles,omitempty"`
	Incomplete  bool             `json:"incomplete,omitempty"`
	Plane       objects.Plane    `json:"plane"`
	Spec        *densitymap.Spec `json:"spec,omitempty"`
}

func describeRaster(r *densitymap.Raster) rasterInfo {
	info := rasterInfo{
		ID:          r.ID().String(),
		Width:       r.Width(),
		Height:      r.Height(),
		Downsample:  r.Downsample(),
		PixelSize:   r.PixelSize(),
		Channels:    r.ChannelNames(),
		FailedTiles: r.FailedTiles(),
		Incomplete:  r.Incomplete(),
		Plane:       r.Plane(),
	}
	if spec := r.Spec(); spec.Radius > 0 {
		info.Spec = &spec
	}
	return info
}

// === Build Handlers ===

type densityBuildArgs struct {
	Spec     json.RawMessage `json:"spec"`
	SpecName string          `json:"spec_name"`
}

func (s *Server) handleDensityBuild(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a densityBuildArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ws, err := s.current()
	if err != nil {
		return nil, err
	}

	var spec densitymap.Spec
	switch {
	case len(a.Spec) > 0 && string(a.Spec) != "null":
		spec, err = densitymap.ParseSpec(a.Spec)
	case a.SpecName != "":
		if err := s.requireStore(); err != nil {
			return nil, err
		}
		spec, err = s.store.LoadSpec(ctx, a.SpecName)
	default:
		return nil, fmt.Errorf("spec or spec_name is required")
	}
	if err != nil {
		return nil, err
	}

	raster, err := ws.session.Build(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.rasters.Put(raster.ID().String(), raster)
	return describeRaster(raster), nil
}

type densityMinMaxArgs struct {
	RasterID     string  `json:"raster_id"`
	CountChannel *int    `json:"count_channel"`
	MinCount     float32 `json:"min_count"`
}

// channelRange is a MinMax that encodes an empty channel as empty
// rather than as infinities.
type channelRange struct {
	Channel string   `json:"channel"`
	Min     *float32 `json:"min,omitempty"`
	Max     *float32 `json:"max,omitempty"`
	Empty   bool     `json:"empty,omitempty"`
}

func (s *Server) handleDensityMinMax(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a densityMinMaxArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	raster, err := s.raster(a.RasterID)
	if err != nil {
		return nil, err
	}

	countBand := raster.AllObjectsChannel()
	if a.CountChannel != nil {
		countBand = *a.CountChannel
	}
	ranges, err := s.renderer.MinMax().Get(ctx, raster, countBand, a.MinCount)
	if err != nil {
		return nil, err
	}

	out := make([]channelRange, len(ranges))
	for i, mm := range ranges {
		out[i] = channelRange{Channel: raster.ChannelName(i)}
		if mm.IsEmpty() {
			out[i].Empty = true
			continue
		}
		lo, hi := mm.Min, mm.Max
		out[i].Min, out[i].Max = &lo, &hi
	}
	return map[string]interface{}{
		"raster_id":     raster.ID().String(),
		"count_channel": countBand,
		"min_count":     a.MinCount,
		"ranges":        out,
	}, nil
}

// === Render Handlers ===

type renderArgs struct {
	channelArgs
	RasterID    string   `json:"raster_id"`
	Ramp        string   `json:"ramp"`
	Min         *float32 `json:"min"`
	Max         *float32 `json:"max"`
	Gamma       *float64 `json:"gamma"`
	MinCount    float32  `json:"min_count"`
	MaskChannel *int     `json:"mask_channel"`
	MaxAlpha    float32  `json:"max_alpha"`
	Overlay     bool     `json:"overlay"`
	Opacity     float64  `json:"opacity"`
	GridSpacing int      `json:"grid_spacing"`
	MaxSize     int      `json:"max_size"`
}

// regionArgs is a full-resolution image rectangle; x2 and y2 are exclusive.
type regionArgs struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// outputRect converts the region to raster pixels, clipped to the raster.
func (a regionArgs) outputRect(r *densitymap.Raster) (image.Rectangle, error) {
	if a.X1 >= a.X2 || a.Y1 >= a.Y2 {
		return image.Rectangle{}, fmt.Errorf("invalid region: x1 must be < x2, y1 must be < y2")
	}
	ds := r.Downsample()
	rect := image.Rect(
		int(math.Floor(float64(a.X1)/ds)),
		int(math.Floor(float64(a.Y1)/ds)),
		int(math.Ceil(float64(a.X2)/ds)),
		int(math.Ceil(float64(a.Y2)/ds)),
	).Intersect(r.Bounds())
	if rect.Empty() {
		return image.Rectangle{}, fmt.Errorf("region (%d,%d)-(%d,%d) is outside the image", a.X1, a.Y1, a.X2, a.Y2)
	}
	return rect, nil
}

// imageRect scales an output rectangle back to image pixels.
func imageRect(r *densitymap.Raster, rect image.Rectangle) image.Rectangle {
	ds := r.Downsample()
	return image.Rect(
		int(float64(rect.Min.X)*ds),
		int(float64(rect.Min.Y)*ds),
		int(math.Ceil(float64(rect.Max.X)*ds)),
		int(math.Ceil(float64(rect.Max.Y)*ds)),
	)
}

func (a renderArgs) options(r *densitymap.Raster) (render.Options, error) {
	opts := render.DefaultOptions()
	c, err := a.resolve(r)
	if err != nil {
		return opts, err
	}
	opts.Channel = c
	if a.Ramp != "" {
		opts.Ramp = a.Ramp
	}
	if a.Min != nil && a.Max != nil {
		opts.Min, opts.Max = *a.Min, *a.Max
		opts.AutoRange = false
	}
	opts.Gamma = 1
	if a.Gamma != nil {
		opts.Gamma = *a.Gamma
	}
	opts.MinCount = a.MinCount
	if a.MaskChannel != nil {
		opts.MaskChannel = *a.MaskChannel
	}
	opts.MaxAlpha = a.MaxAlpha
	return opts, nil
}

// saveOptions builds the compose settings for a rendering. Overlays need
// the workspace background image.
func (s *Server) saveOptions(raster *densitymap.Raster, a renderArgs, fullSize bool) (render.SaveOptions, error) {
	opts := render.SaveOptions{
		Opacity:     a.Opacity,
		GridSpacing: a.GridSpacing,
		LabelScale:  raster.Downsample(),
	}
	if fullSize {
		opts.ImageWidth, opts.ImageHeight = raster.ImageSize()
	}
	if a.Overlay {
		ws, err := s.current()
		if err != nil {
			return opts, err
		}
		if ws.background == "" {
			return opts, fmt.Errorf("overlay requires a background image: pass background to objects_load")
		}
		bg, err := imaging.LoadImage(s.images, ws.background)
		if err != nil {
			return opts, err
		}
		opts.Background = bg
	}
	return opts, nil
}

type renderResult struct {
	*imaging.EncodedImage
	RasterID string          `json:"raster_id"`
	Channel  string          `json:"channel"`
	Region   image.Rectangle `json:"region"`
	Display  render.Resolved `json:"display"`
	// MinColor and MaxColor are the ramp colors at the display range ends.
	MinColor string `json:"min_color"`
	MaxColor string `json:"max_color"`
}

type densityRenderArgs struct {
	renderArgs
	Region *regionArgs `json:"region"`
}

func (s *Server) handleDensityRender(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a densityRenderArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	raster, err := s.raster(a.RasterID)
	if err != nil {
		return nil, err
	}
	opts, err := a.options(raster)
	if err != nil {
		return nil, err
	}
	region := raster.Bounds()
	if a.Region != nil {
		if region, err = a.Region.outputRect(raster); err != nil {
			return nil, err
		}
	}

	rendered, res, err := s.renderer.RenderTile(ctx, raster, region, opts)
	if err != nil {
		return nil, err
	}
	saveOpts, err := s.saveOptions(raster, a.renderArgs, false)
	if err != nil {
		return nil, err
	}
	if saveOpts.Background != nil && region != raster.Bounds() {
		bgRect := imageRect(raster, region).Intersect(saveOpts.Background.Bounds())
		if saveOpts.Background, err = imaging.Crop(saveOpts.Background, bgRect, 1); err != nil {
			return nil, err
		}
	}
	var out image.Image
	if out, err = render.Compose(rendered, saveOpts); err != nil {
		return nil, err
	}
	if a.MaxSize > 0 {
		out = imaging.Fit(out, a.MaxSize)
	}

	enc, err := imaging.EncodePNGBase64(out)
	if err != nil {
		return nil, err
	}
	ramp, err := imaging.RampByName(res.Ramp)
	if err != nil {
		return nil, err
	}
	return renderResult{
		EncodedImage: enc,
		RasterID:     raster.ID().String(),
		Channel:      raster.ChannelName(res.Channel),
		Region:       imageRect(raster, region),
		Display:      res,
		MinColor:     imaging.HexString(ramp.At(0)),
		MaxColor:     imaging.HexString(ramp.At(1)),
	}, nil
}

// === Hotspot and Contour Handlers ===

type densityHotspotsArgs struct {
	channelArgs
	RasterID       string   `json:"raster_id"`
	N              *int     `json:"n"`
	Radius         *float64 `json:"radius"`
	MinDensity     float32  `json:"min_density"`
	AllowOverlap   bool     `json:"allow_overlap"`
	DeleteExisting *bool    `json:"delete_existing"`
	PointsOnly     bool     `json:"points_only"`
	ParentIDs      []int64  `json:"parent_ids"`
	ParentClass    string   `json:"parent_class"`
}

func (s *Server) handleDensityHotspots(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a densityHotspotsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ws, err := s.current()
	if err != nil {
		return nil, err
	}
	raster, err := s.raster(a.RasterID)
	if err != nil {
		return nil, err
	}
	channel, err := a.resolve(raster)
	if err != nil {
		return nil, err
	}

	p := hotspots.Params{
		Channel:        channel,
		N:              1,
		Radius:         raster.Spec().Radius,
		MinDensity:     a.MinDensity,
		AllowOverlap:   a.AllowOverlap,
		DeleteExisting: true,
		PointsOnly:     a.PointsOnly,
	}
	if a.N != nil {
		p.N = *a.N
	}
	if a.Radius != nil {
		p.Radius = *a.Radius
	}
	if a.DeleteExisting != nil {
		p.DeleteExisting = *a.DeleteExisting
	}
	if p.Parents, err = parents(ws.hierarchy, a.ParentIDs, a.ParentClass); err != nil {
		return nil, err
	}

	added, err := s.finder.Find(ctx, ws.hierarchy, raster, p)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"raster_id": raster.ID().String(),
		"class":     hotspots.ClassName(raster.ChannelName(channel)),
		"count":     len(added),
		"hotspots":  describeObjects(added),
	}, nil
}

// parents resolves hotspot parent areas by ID and by classification.
func parents(h *objects.Hierarchy, ids []int64, class string) ([]*objects.Object, error) {
	var out []*objects.Object
	for _, id := range ids {
		o, ok := h.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown parent object %d", id)
		}
		if !o.IsArea() {
			return nil, fmt.Errorf("parent object %d has no area", id)
		}
		out = append(out, o)
	}
	if class != "" {
		sel := objects.ClassIs(class).Selector()
		matched := h.Objects(func(o *objects.Object) bool {
			return o.Kind == objects.KindAnnotation && o.IsArea() && sel(o)
		})
		if len(matched) == 0 {
			return nil, fmt.Errorf("no area annotations classified %q", class)
		}
		out = append(out, matched...)
	}
	return out, nil
}

type densityContoursArgs struct {
	channelArgs
	RasterID  string  `json:"raster_id"`
	Threshold float32 `json:"threshold"`
	Split     bool    `json:"split"`
	ClassName string  `json:"class_name"`
	Simplify  float64 `json:"simplify"`
	Backend   string  `json:"backend"`
	Add       *bool   `json:"add"`
}

func (s *Server) handleDensityContours(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a densityContoursArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	raster, err := s.raster(a.RasterID)
	if err != nil {
		return nil, err
	}
	channel, err := a.resolve(raster)
	if err != nil {
		return nil, err
	}

	objs, err := s.tracer.Trace(ctx, raster, contours.Params{
		Channel:   channel,
		Threshold: a.Threshold,
		Split:     a.Split,
		ClassName: a.ClassName,
		Simplify:  a.Simplify,
		Backend:   a.Backend,
	})
	if err != nil {
		return nil, err
	}

	add := a.Add == nil || *a.Add
	if add && len(objs) > 0 {
		ws, err := s.current()
		if err != nil {
			return nil, err
		}
		objs = ws.hierarchy.Add(objs...)
	}
	return map[string]interface{}{
		"raster_id": raster.ID().String(),
		"added":     add,
		"count":     len(objs),
		"contours":  describeObjects(objs),
	}, nil
}

// === Export Handlers ===

type densityExportArgs struct {
	renderArgs
	Mode     string `json:"mode"`
	Dir      string `json:"dir"`
	Prefix   string `json:"prefix"`
	Path     string `json:"path"`
	FullSize bool   `json:"full_size"`
}

func (s *Server) handleDensityExport(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a densityExportArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	raster, err := s.raster(a.RasterID)
	if err != nil {
		return nil, err
	}

	switch a.Mode {
	case "channels":
		if a.Dir == "" {
			return nil, fmt.Errorf("dir is required for channels export")
		}
		sidecar, side, err := render.ExportChannels(raster, a.Dir, a.Prefix)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"sidecar":  sidecar,
			"channels": side.Channels,
		}, nil

	case "rendered":
		if a.Path == "" {
			return nil, fmt.Errorf("path is required for rendered export")
		}
		opts, err := a.options(raster)
		if err != nil {
			return nil, err
		}
		rendered, res, err := s.renderer.Render(ctx, raster, opts)
		if err != nil {
			return nil, err
		}
		saveOpts, err := s.saveOptions(raster, a.renderArgs, a.FullSize)
		if err != nil {
			return nil, err
		}
		if err := render.SaveRendered(a.Path, rendered, saveOpts); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"path":    a.Path,
			"display": res,
		}, nil

	default:
		return nil, fmt.Errorf("unknown export mode %q: use channels or rendered", a.Mode)
	}
}

type densityImportArgs struct {
	Sidecar string `json:"sidecar"`
}

// handleDensityImport registers a map written by density_export's channels
// mode. Imported maps are not tied to the workspace and are addressed by
// the returned raster_id.
func (s *Server) handleDensityImport(args json.RawMessage) (interface{}, error) {
	var a densityImportArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Sidecar == "" {
		return nil, fmt.Errorf("sidecar is required")
	}
	raster, err := render.ImportChannels(a.Sidecar)
	if err != nil {
		return nil, err
	}
	s.rasters.Put(raster.ID().String(), raster)
	s.log.Info().Str("raster", raster.ID().String()).Str("sidecar", a.Sidecar).Msg("density map imported")
	return describeRaster(raster), nil
}
