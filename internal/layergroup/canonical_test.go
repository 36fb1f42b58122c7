package layergroup

import (
	"regexp"
	"strings"
	"testing"
)

func twoLayers() Config {
	return Config{
		Version: "1.0.0",
		Layers: []Layer{
			{
				SQL:             "select cartodb_id, the_geom_webmercator from test_table limit 2",
				CartoCSS:        "#layer { marker-fill:red; }",
				CartoCSSVersion: "2.0.1",
				Interactivity:   "cartodb_id",
			},
			{
				SQL:             "select cartodb_id, the_geom_webmercator from test_table limit 2 offset 2",
				CartoCSS:        "#layer { marker-fill:blue; }",
				CartoCSSVersion: "2.0.2",
				Interactivity:   "cartodb_id",
			},
		},
	}
}

func mustDigest(t *testing.T, c Config) string {
	t.Helper()
	d, err := Digest(c)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	return d
}

func TestDigest_DeterministicAndFixedLength(t *testing.T) {
	d1 := mustDigest(t, twoLayers())
	d2 := mustDigest(t, twoLayers())
	if d1 != d2 {
		t.Fatalf("determinism failed: %s vs %s", d1, d2)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(d1) {
		t.Fatalf("digest %q is not 32 lowercase hex chars", d1)
	}
}

func TestDigest_LayerOrderMatters(t *testing.T) {
	c := twoLayers()
	swapped := twoLayers()
	swapped.Layers[0], swapped.Layers[1] = swapped.Layers[1], swapped.Layers[0]
	if mustDigest(t, c) == mustDigest(t, swapped) {
		t.Fatalf("swapping distinct layers must change the digest")
	}

	same := twoLayers()
	same.Layers[1] = same.Layers[0]
	sameSwapped := twoLayers()
	sameSwapped.Layers[1] = sameSwapped.Layers[0]
	sameSwapped.Layers[0], sameSwapped.Layers[1] = sameSwapped.Layers[1], sameSwapped.Layers[0]
	if mustDigest(t, same) != mustDigest(t, sameSwapped) {
		t.Fatalf("swapping identical layers must not change the digest")
	}
}

func TestDigest_IgnoresVersionTagAndWireFormatting(t *testing.T) {
	a := `{"version":"1.0.0","stat_tag":"a","layers":[{"options":{"sql":"select 1","cartocss":"#l{}","cartocss_version":"2.0.1"}}]}`
	b := `{
	  "layers": [ { "type": "cartodb", "options": { "cartocss_version": "2.0.1", "cartocss": "#l{}", "sql": "select 1" } } ],
	  "stat_tag": "b",
	  "version": "1.0.1"
	}`
	ca, err := Decode(strings.NewReader(a))
	if err != nil {
		t.Fatalf("Decode a: %v", err)
	}
	cb, err := Decode(strings.NewReader(b))
	if err != nil {
		t.Fatalf("Decode b: %v", err)
	}
	if mustDigest(t, ca) != mustDigest(t, cb) {
		t.Fatalf("wire formatting, version or tag leaked into the digest")
	}
}

func TestDigest_EveryLayerFieldContributes(t *testing.T) {
	base := mustDigest(t, twoLayers())
	mutations := map[string]func(*Layer){
		"sql":           func(l *Layer) { l.SQL += " " },
		"cartocss":      func(l *Layer) { l.CartoCSS = "#layer { marker-fill:green; }" },
		"version":       func(l *Layer) { l.CartoCSSVersion = "2.1.0" },
		"interactivity": func(l *Layer) { l.Interactivity = "" },
	}
	for name, mut := range mutations {
		c := twoLayers()
		mut(&c.Layers[1])
		if mustDigest(t, c) == base {
			t.Fatalf("changing %s did not change the digest", name)
		}
	}
}
