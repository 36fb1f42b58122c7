package channel

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFor_DatasourceThenQuery(t *testing.T) {
	q := "SELECT CDB_QueryTables($windshaft$select * from test_table$windshaft$)"
	got := For("cartodb_test_user_1_db", q)
	ds, rest, ok := strings.Cut(got, ":")
	if !ok || ds != "cartodb_test_user_1_db" {
		t.Fatalf("channel=%q", got)
	}
	var body struct {
		Q string `json:"q"`
	}
	if err := json.Unmarshal([]byte(rest), &body); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if body.Q != q {
		t.Fatalf("q=%q", body.Q)
	}
}

func TestFor_KeepsComparisonOperatorsLiteral(t *testing.T) {
	got := For("db", "select * from t where n < 5 and m > 1 and a && b")
	want := `db:{"q":"select * from t where n < 5 and m > 1 and a && b"}`
	if got != want {
		t.Fatalf("channel=%q want %q", got, want)
	}
}

func TestFor_Deterministic(t *testing.T) {
	if For("db", "select 1") != For("db", "select 1") {
		t.Fatalf("equal inputs must give equal channels")
	}
	if For("db", "select 1") == For("db", "select 2") {
		t.Fatalf("different queries must give different channels")
	}
	if For("a", "select 1") == For("b", "select 1") {
		t.Fatalf("different datasources must give different channels")
	}
}

func TestDedupe(t *testing.T) {
	d := newDedupe(2)
	if !d.first("a", "b") {
		t.Fatalf("first sighting")
	}
	if d.first("a", "b") {
		t.Fatalf("repeat should be suppressed")
	}
	if !d.first("ab", "") {
		t.Fatalf("part boundaries must matter")
	}
}
