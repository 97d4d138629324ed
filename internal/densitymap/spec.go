package densitymap

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/pkg/errors"
)

// AllObjectsChannel is the name of the implicit all-objects channel.
const AllObjectsChannel = "All objects"

// KernelShape selects how object distance is turned into a weight.
type KernelShape int

const (
	// KernelBox weights every object within the radius by 1.
	KernelBox KernelShape = iota
	// KernelGaussian weights objects by exp(-d²/2σ²) with σ = radius/2.
	KernelGaussian
)

// Normalization converts accumulated counts into channel values.
type Normalization int

const (
	// Raw stores the accumulated count.
	Raw Normalization = iota
	// Percent stores 100 × density/all and appends the all-objects count as
	// a trailing channel.
	Percent
	// GaussianWeighted stores the Gaussian-weighted count. Requires KernelGaussian.
	GaussianWeighted
	// AreaNormalized divides the count by the kernel area, giving objects per
	// square calibrated unit.
	AreaNormalized
)

// AreaMode controls how area objects are measured against a pixel.
type AreaMode int

const (
	// AreaCentroid measures the distance to the object's centroid.
	AreaCentroid AreaMode = iota
	// AreaFootprint measures the distance to the object's geometry, so a
	// pixel inside the footprint has distance zero.
	AreaFootprint
)

var (
	kernelNames        = []string{"box", "gaussian"}
	normalizationNames = []string{"raw", "percent", "gaussian_weighted", "area_normalized"}
	areaModeNames      = []string{"centroid", "footprint"}
)

func enumString(names []string, v int, kind string) string {
	if v < 0 || v >= len(names) {
		return fmt.Sprintf("%s(%d)", kind, v)
	}
	return names[v]
}

func parseEnum(names []string, s, kind string) (int, error) {
	for i, name := range names {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidSpec, "unknown %s %q", kind, s)
}

func (k KernelShape) String() string   { return enumString(kernelNames, int(k), "kernel") }
func (n Normalization) String() string { return enumString(normalizationNames, int(n), "normalization") }
func (m AreaMode) String() string      { return enumString(areaModeNames, int(m), "area_mode") }

// ParseKernelShape converts "box" or "gaussian".
func ParseKernelShape(s string) (KernelShape, error) {
	v, err := parseEnum(kernelNames, s, "kernel")
	return KernelShape(v), err
}

// ParseNormalization converts "raw", "percent", "gaussian_weighted" or "area_normalized".
func ParseNormalization(s string) (Normalization, error) {
	v, err := parseEnum(normalizationNames, s, "normalization")
	return Normalization(v), err
}

// ParseAreaMode converts "centroid" or "footprint".
func ParseAreaMode(s string) (AreaMode, error) {
	v, err := parseEnum(areaModeNames, s, "area mode")
	return AreaMode(v), err
}

func (k KernelShape) MarshalJSON() ([]byte, error)   { return json.Marshal(k.String()) }
func (n Normalization) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }
func (m AreaMode) MarshalJSON() ([]byte, error)      { return json.Marshal(m.String()) }

func (k *KernelShape) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseKernelShape(s)
	*k = v
	return err
}

func (n *Normalization) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseNormalization(s)
	*n = v
	return err
}

func (m *AreaMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseAreaMode(s)
	*m = v
	return err
}

// Spec describes a density map. It is an immutable value: construct it with
// NewSpec and compare it with Equal.
type Spec struct {
	ObjectType     objects.ObjectType    `json:"object_type"`
	DensityClasses []objects.ClassFilter `json:"density_classes,omitempty"`
	Radius         float64               `json:"radius"`
	Kernel         KernelShape           `json:"kernel"`
	PixelSize      float64               `json:"pixel_size,omitempty"`
	Normalization  Normalization         `json:"normalization"`
	AreaMode       AreaMode              `json:"area_mode"`
}

// Option configures a Spec under construction.
type Option func(*specBuilder)

type specBuilder struct {
	spec      Spec
	kernelSet bool
}

// WithObjectType selects the object population (default Detections).
func WithObjectType(t objects.ObjectType) Option {
	return func(b *specBuilder) { b.spec.ObjectType = t }
}

// WithDensityClasses sets the numerator class filters, one channel each.
func WithDensityClasses(filters ...objects.ClassFilter) Option {
	return func(b *specBuilder) {
		b.spec.DensityClasses = append([]objects.ClassFilter(nil), filters...)
	}
}

// WithRadius sets the kernel radius in calibrated units.
func WithRadius(r float64) Option {
	return func(b *specBuilder) { b.spec.Radius = r }
}

// WithKernel sets the kernel shape.
func WithKernel(k KernelShape) Option {
	return func(b *specBuilder) {
		b.spec.Kernel = k
		b.kernelSet = true
	}
}

// WithPixelSize sets the output pixel size in calibrated units. Zero selects
// a size derived from the image and radius.
func WithPixelSize(px float64) Option {
	return func(b *specBuilder) { b.spec.PixelSize = px }
}

// WithNormalization sets the normalization mode. GaussianWeighted selects the
// Gaussian kernel unless a kernel was given explicitly.
func WithNormalization(n Normalization) Option {
	return func(b *specBuilder) { b.spec.Normalization = n }
}

// WithAreaMode sets how area objects are measured.
func WithAreaMode(m AreaMode) Option {
	return func(b *specBuilder) { b.spec.AreaMode = m }
}

// NewSpec builds and validates a Spec.
func NewSpec(opts ...Option) (Spec, error) {
	b := &specBuilder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.spec.Normalization == GaussianWeighted && !b.kernelSet {
		b.spec.Kernel = KernelGaussian
	}
	if err := b.spec.Validate(); err != nil {
		return Spec{}, err
	}
	return b.spec, nil
}

// ParseSpec decodes a Spec from its JSON form and validates it. As with
// NewSpec, gaussian_weighted without a "kernel" field selects the Gaussian
// kernel.
func ParseSpec(data []byte) (Spec, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		if errors.Is(err, ErrInvalidSpec) {
			return Spec{}, err
		}
		return Spec{}, errors.Wrap(ErrInvalidSpec, err.Error())
	}
	if s.Normalization == GaussianWeighted {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err == nil {
			if _, ok := fields["kernel"]; !ok {
				s.Kernel = KernelGaussian
			}
		}
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// Validate checks the spec. All failures wrap ErrInvalidSpec.
func (s Spec) Validate() error {
	switch {
	case math.IsNaN(s.Radius) || math.IsInf(s.Radius, 0) || s.Radius <= 0:
		return errors.Wrapf(ErrInvalidSpec, "radius must be > 0, got %v", s.Radius)
	case math.IsNaN(s.PixelSize) || math.IsInf(s.PixelSize, 0) || s.PixelSize < 0:
		return errors.Wrapf(ErrInvalidSpec, "pixel size must be >= 0, got %v", s.PixelSize)
	case !s.ObjectType.Valid():
		return errors.Wrapf(ErrInvalidSpec, "unknown object type %d", int(s.ObjectType))
	case s.Kernel != KernelBox && s.Kernel != KernelGaussian:
		return errors.Wrapf(ErrInvalidSpec, "unknown kernel %d", int(s.Kernel))
	case s.Normalization < Raw || s.Normalization > AreaNormalized:
		return errors.Wrapf(ErrInvalidSpec, "unknown normalization %d", int(s.Normalization))
	case s.AreaMode != AreaCentroid && s.AreaMode != AreaFootprint:
		return errors.Wrapf(ErrInvalidSpec, "unknown area mode %d", int(s.AreaMode))
	case s.Normalization == GaussianWeighted && s.Kernel != KernelGaussian:
		return errors.Wrap(ErrInvalidSpec, "gaussian_weighted normalization requires the gaussian kernel")
	}
	for i, f := range s.DensityClasses {
		if !f.Valid() {
			return errors.Wrapf(ErrInvalidSpec, "density class %d has unknown match mode", i)
		}
	}
	return nil
}

// Key is the canonical encoding of the spec. Two specs with the same key
// describe the same map.
func (s Spec) Key() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%#v", s)
	}
	return string(data)
}

// Equal reports whether two specs describe the same map.
func (s Spec) Equal(other Spec) bool {
	return s.Key() == other.Key()
}

// NumChannels returns max(1, |DensityClasses|), plus one when Percent.
func (s Spec) NumChannels() int {
	n := max(1, len(s.DensityClasses))
	if s.Normalization == Percent {
		n++
	}
	return n
}

// ChannelNames returns the names of the channels in raster order.
func (s Spec) ChannelNames() []string {
	names := make([]string, 0, s.NumChannels())
	if len(s.DensityClasses) == 0 {
		names = append(names, AllObjectsChannel)
	}
	for _, f := range s.DensityClasses {
		names = append(names, f.Label())
	}
	if s.Normalization == Percent {
		names = append(names, AllObjectsChannel)
	}
	return names
}

// HasAllObjectsChannel reports whether the last channel holds the
// all-objects count.
func (s Spec) HasAllObjectsChannel() bool {
	return s.Normalization == Percent
}

// Sigma returns the Gaussian standard deviation, radius/2.
func (s Spec) Sigma() float64 { return s.Radius / 2 }

// Support returns the distance beyond which the kernel weight is zero, in
// calibrated units.
func (s Spec) Support() float64 {
	if s.Kernel == KernelGaussian {
		return gaussianTruncation * s.Sigma()
	}
	return s.Radius
}

// KernelArea returns the integral of the kernel in square calibrated units.
func (s Spec) KernelArea() float64 {
	if s.Kernel == KernelGaussian {
		sigma := s.Sigma()
		return 2 * math.Pi * sigma * sigma
	}
	return math.Pi * s.Radius * s.Radius
}

// selectors resolves the object predicates once per build. The density
// predicates are AND-ed with the population predicate.
func (s Spec) selectors() (all objects.Predicate, density []objects.Predicate) {
	all = s.ObjectType.Selector()
	if len(s.DensityClasses) == 0 {
		return all, []objects.Predicate{all}
	}
	density = make([]objects.Predicate, len(s.DensityClasses))
	for i, f := range s.DensityClasses {
		density[i] = objects.And(all, f.Selector())
	}
	return all, density
}
