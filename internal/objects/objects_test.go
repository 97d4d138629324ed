package objects

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func TestNew_CentroidAndBound(t *testing.T) {
	o := MustNew(KindCell, square(10, 20, 4), "Tumor: Positive", Plane{})
	assert.InDelta(t, 12, o.Centroid().X(), 1e-9)
	assert.InDelta(t, 22, o.Centroid().Y(), 1e-9)
	assert.Equal(t, orb.Point{10, 20}, o.Bound().Min)
	assert.True(t, o.IsArea())
	assert.False(t, o.IsPoint())
	assert.True(t, o.Contains(orb.Point{11, 21}))
	assert.False(t, o.Contains(orb.Point{30, 30}))
}

func TestNew_NilGeometry(t *testing.T) {
	_, err := New(KindDetection, nil, "", Plane{})
	require.Error(t, err)
}

func TestObject_DistanceTo(t *testing.T) {
	o := MustNew(KindAnnotation, square(0, 0, 10), "", Plane{})
	assert.Equal(t, 0.0, o.DistanceTo(orb.Point{5, 5}))
	assert.InDelta(t, 3, o.DistanceTo(orb.Point{13, 5}), 1e-9)

	p := MustNew(KindAnnotation, orb.Point{0, 0}, "", Plane{})
	assert.InDelta(t, 5, p.DistanceTo(orb.Point{3, 4}), 1e-9)
}

func TestObject_Points(t *testing.T) {
	mp := MustNew(KindAnnotation, orb.MultiPoint{{1, 1}, {2, 2}, {3, 3}}, "", Plane{})
	assert.Len(t, mp.Points(), 3)
	assert.True(t, mp.IsPoint())
}

func TestClassFilter_Selector(t *testing.T) {
	tumorPos := MustNew(KindCell, orb.Point{0, 0}, "Tumor: Positive", Plane{})
	tumorNeg := MustNew(KindCell, orb.Point{0, 0}, "Tumor: Negative", Plane{})
	stroma2 := MustNew(KindCell, orb.Point{0, 0}, "Stroma: 2+", Plane{})
	positive := MustNew(KindCell, orb.Point{0, 0}, "Positive", Plane{})
	unclassified := MustNew(KindCell, orb.Point{0, 0}, "", Plane{})

	tests := []struct {
		name   string
		filter ClassFilter
		obj    *Object
		want   bool
	}{
		{"exact match", ClassIs("Tumor: Positive"), tumorPos, true},
		{"exact spacing normalized", ClassIs("Tumor:Positive"), tumorPos, true},
		{"exact mismatch", ClassIs("Tumor"), tumorPos, false},
		{"base match", ClassFilter{Name: "Tumor", Match: MatchBase}, tumorNeg, true},
		{"base mismatch", ClassFilter{Name: "Stroma", Match: MatchBase}, tumorNeg, false},
		{"component match", ClassFilter{Name: "Positive", Match: MatchComponent}, tumorPos, true},
		{"any positive intensity", ClassFilter{Match: MatchAnyPositive}, stroma2, true},
		{"any positive plain", ClassFilter{Match: MatchAnyPositive}, positive, true},
		{"any positive negative", ClassFilter{Match: MatchAnyPositive}, tumorNeg, false},
		{"any positive with base", ClassFilter{Name: "Tumor", Match: MatchAnyPositive}, stroma2, false},
		{"unclassified exact", ClassIs(""), unclassified, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Selector()(tt.obj))
		})
	}
}

func TestObjectType_Selector(t *testing.T) {
	det := MustNew(KindDetection, orb.Point{0, 0}, "", Plane{})
	cell := MustNew(KindCell, square(0, 0, 2), "", Plane{})
	pointAnno := MustNew(KindAnnotation, orb.MultiPoint{{1, 1}}, "", Plane{})
	areaAnno := MustNew(KindAnnotation, square(0, 0, 5), "", Plane{})

	assert.True(t, Detections.Selector()(det))
	assert.True(t, Detections.Selector()(cell))
	assert.False(t, Detections.Selector()(pointAnno))
	assert.False(t, Cells.Selector()(det))
	assert.True(t, PointAnnotations.Selector()(pointAnno))
	assert.False(t, PointAnnotations.Selector()(areaAnno))
	assert.True(t, AllObjects.Selector()(areaAnno))
}

func TestHierarchy_QuerySortedAndFiltered(t *testing.T) {
	h := NewHierarchy(100, 100)
	h.Add(
		MustNew(KindDetection, orb.Point{50, 50}, "A", Plane{}),
		MustNew(KindDetection, orb.Point{10, 10}, "B", Plane{}),
		MustNew(KindDetection, orb.Point{12, 12}, "C", Plane{Z: 1}),
		MustNew(KindDetection, square(20, 20, 30), "D", Plane{}),
	)

	got, err := h.Query(context.Background(), orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{25, 25}}, Plane{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Class)
	assert.Equal(t, "D", got[1].Class, "area object overlapping the region must be returned")
	assert.Less(t, got[0].ID, got[1].ID)
}

func TestHierarchy_OverflowObjects(t *testing.T) {
	h := NewHierarchy(10, 10)
	h.Add(MustNew(KindDetection, orb.Point{-5, -5}, "outside", Plane{}))

	got, err := h.Query(context.Background(), orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{0, 0}}, Plane{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Only overflow objects so far: the quadtree is still empty.
	removed := h.Remove(func(o *Object) bool { return o.Class == "outside" })
	assert.Len(t, removed, 1)
	assert.Equal(t, 0, h.Len())
}

func TestHierarchy_RemoveMixedOverflow(t *testing.T) {
	h := NewHierarchy(20, 20)
	h.Add(
		MustNew(KindAnnotation, orb.Point{25, 5}, "Positive hotspot", Plane{}),
		MustNew(KindDetection, orb.Point{5, 5}, "Positive", Plane{}),
		MustNew(KindAnnotation, orb.Point{10, 10}, "Positive hotspot", Plane{}),
	)

	removed := h.Remove(ClassIs("Positive hotspot").Selector())
	require.Len(t, removed, 2)
	assert.Equal(t, int64(1), removed[0].ID)
	assert.Equal(t, int64(3), removed[1].ID)

	got, err := h.Query(context.Background(), orb.Bound{Min: orb.Point{-50, -50}, Max: orb.Point{50, 50}}, Plane{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Positive", got[0].Class)
}

func TestHierarchy_RestoreKeepsIDs(t *testing.T) {
	h := NewHierarchy(100, 100)
	parent := MustNew(KindAnnotation, square(0, 0, 50), "Tumor", Plane{}).WithID(7)
	child := MustNew(KindAnnotation, orb.Point{10, 10}, "Tumor hotspot", Plane{}).WithID(12)
	child.ParentID = 7
	dup := MustNew(KindDetection, orb.Point{20, 20}, "A", Plane{}).WithID(7)
	fresh := MustNew(KindDetection, orb.Point{30, 30}, "B", Plane{})

	restored := h.Restore(parent, child, dup, fresh)
	require.Len(t, restored, 4)
	assert.Equal(t, int64(7), restored[0].ID)
	assert.Equal(t, int64(12), restored[1].ID)
	assert.Equal(t, int64(13), restored[2].ID, "taken ID gets a fresh one")
	assert.Equal(t, int64(14), restored[3].ID)

	got, ok := h.Get(restored[1].ParentID)
	require.True(t, ok)
	assert.Equal(t, "Tumor", got.Class)

	added := h.Add(MustNew(KindDetection, orb.Point{40, 40}, "C", Plane{}))
	assert.Equal(t, int64(15), added[0].ID)
}

func TestHierarchy_RemoveAndEvents(t *testing.T) {
	h := NewHierarchy(100, 100)
	events, cancel := h.Subscribe()
	defer cancel()

	added := h.Add(MustNew(KindAnnotation, orb.Point{1, 1}, "X hotspot", Plane{}))
	require.Len(t, added, 1)
	assert.Equal(t, int64(1), added[0].ID)

	ev := <-events
	assert.Equal(t, EventAdded, ev.Type)

	removed := h.Remove(ClassIs("X hotspot").Selector())
	require.Len(t, removed, 1)
	ev = <-events
	assert.Equal(t, EventRemoved, ev.Type)

	got, err := h.Query(context.Background(), h.Bound(), Plane{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHierarchy_Closed(t *testing.T) {
	h := NewHierarchy(10, 10)
	events, _ := h.Subscribe()
	h.Close()

	_, err := h.Query(context.Background(), h.Bound(), Plane{})
	assert.ErrorIs(t, err, ErrClosed)

	_, open := <-events
	assert.False(t, open)
}

func TestHierarchy_QueryCancelled(t *testing.T) {
	h := NewHierarchy(10, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Query(ctx, h.Bound(), Plane{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadGeoJSON_FeatureCollection(t *testing.T) {
	doc := `{
	  "type": "FeatureCollection",
	  "features": [
	    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [10, 12]},
	     "properties": {"objectType": "cell", "classification": {"name": "Tumor: Positive"}}},
	    {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[4,0],[4,4],[0,4],[0,0]]]},
	     "properties": {"objectType": "annotation", "classification": "Region", "name": "roi"}},
	    {"type": "Feature", "geometry": null, "properties": {}}
	  ]
	}`
	objs, err := ReadGeoJSON(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, KindCell, objs[0].Kind)
	assert.Equal(t, "Tumor: Positive", objs[0].Class)
	assert.Equal(t, KindAnnotation, objs[1].Kind)
	assert.Equal(t, "Region", objs[1].Class)
	assert.Equal(t, "roi", objs[1].Name)
}

func TestReadGeoJSON_FeatureArray(t *testing.T) {
	doc := `[{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {}}]`
	objs, err := ReadGeoJSON(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, KindDetection, objs[0].Kind)
}

func TestReadGeoJSON_Invalid(t *testing.T) {
	_, err := ReadGeoJSON(strings.NewReader(`{"type": "Topology"}`))
	assert.Error(t, err)

	_, err = ReadGeoJSON(strings.NewReader(``))
	assert.Error(t, err)

	_, err = ReadGeoJSON(strings.NewReader(`[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"objectType":"blob"}}]`))
	assert.Error(t, err)
}

func TestWriteGeoJSON_ReadBack(t *testing.T) {
	h := NewHierarchy(100, 100)
	h.Add(
		MustNew(KindAnnotation, square(1, 1, 3), "Positive hotspot", Plane{Z: 2}),
		MustNew(KindCell, orb.Point{5, 5}, "", Plane{}),
	)

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, h.Objects(nil)))

	back, err := ReadGeoJSON(&buf)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, "Positive hotspot", back[0].Class)
	assert.Equal(t, Plane{Z: 2}, back[0].Plane)
	assert.Equal(t, KindCell, back[1].Kind)
}
