package drawing

import (
	"strings"
	"testing"
	"time"
)

func TestExportSVG_Empty(t *testing.T) {
	got := ExportSVG(nil, 300, 200)
	if !strings.Contains(got, `<svg width="300" height="200" viewBox="0 0 300 200"`) {
		t.Errorf("unexpected header:\n%s", got)
	}
	if strings.Contains(got, "<path") {
		t.Error("empty drawing should have no paths")
	}
	if !strings.HasSuffix(got, "</svg>") {
		t.Error("document should be closed")
	}
}

func TestExportSVG_FitsAndCentres(t *testing.T) {
	// 10x5 content in a 100x100 canvas: scale 10, centred vertically.
	strokes := []Stroke{{Points: []Point{{X: 0, Y: 0}, {X: 10, Y: 5}}}}
	got := ExportSVG(strokes, 100, 100)

	if !strings.Contains(got, `d="M0.00 25.00L100.00 75.00"`) {
		t.Errorf("unexpected path:\n%s", got)
	}
	if !strings.Contains(got, `stroke-width="20.00"`) {
		t.Errorf("stroke width should scale with content:\n%s", got)
	}
}

func TestExportSVG_OffsetContent(t *testing.T) {
	strokes := []Stroke{
		{Points: []Point{{X: 100, Y: 100}, {X: 200, Y: 100}}},
		{Points: []Point{{X: 100, Y: 200}}},
	}
	got := ExportSVG(strokes, 50, 50)

	if strings.Count(got, "<path") != 2 {
		t.Fatalf("expected one path per stroke:\n%s", got)
	}
	if !strings.Contains(got, `d="M0.00 0.00L50.00 0.00"`) || !strings.Contains(got, `d="M0.00 50.00"`) {
		t.Errorf("content should be translated to the origin:\n%s", got)
	}
	// scale 0.5 keeps the minimum stroke width.
	if !strings.Contains(got, `stroke-width="1.00"`) {
		t.Errorf("stroke width should not drop below 1:\n%s", got)
	}
}

func TestExportSVG_SinglePoint(t *testing.T) {
	got := ExportSVG([]Stroke{{Points: []Point{{X: 5, Y: 5}}}}, 10, 10)
	// Degenerate bounds are treated as 1x1 and centred.
	if !strings.Contains(got, `d="M0.00 0.00"`) {
		t.Errorf("unexpected path:\n%s", got)
	}
}

func TestLoadDrawing_ObjectAndArray(t *testing.T) {
	obj, err := LoadDrawing([]byte(`{
		// signature
		"width": 400, "height": 120,
		"strokes": [{"points": [{"x": 1, "y": 2, "pressure": 0.5}]}],
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if obj.Width != 400 || obj.Height != 120 || len(obj.Strokes) != 1 || obj.Strokes[0].Points[0].Pressure != 0.5 {
		t.Errorf("unexpected drawing %+v", obj)
	}

	arr, err := LoadDrawing([]byte(`[{"points":[{"x":0,"y":0},{"x":3,"y":4}]}]`))
	if err != nil {
		t.Fatal(err)
	}
	if arr.Width != DefaultWidth || arr.Height != DefaultHeight || len(arr.Strokes[0].Points) != 2 {
		t.Errorf("unexpected drawing %+v", arr)
	}
	if !strings.Contains(arr.SVG(), "<path") {
		t.Error("SVG should render the strokes")
	}
}

func TestLoadDrawing_Invalid(t *testing.T) {
	if _, err := LoadDrawing([]byte(`{"strokes": "nope"}`)); err == nil {
		t.Error("expected error for malformed strokes")
	}
}

func TestFilename(t *testing.T) {
	if got := Filename(time.Unix(1700000000, 0)); got != "handwriting-1700000000.svg" {
		t.Errorf("unexpected filename %q", got)
	}
}
