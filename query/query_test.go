package query

import (
	"reflect"
	"testing"
)

func TestWhere(t *testing.T) {
	tests := []struct {
		name  string
		query *Query
		want  []string
	}{
		{"equal", Where("target", "10.0.0.1/32"), []string{"?target=10.0.0.1/32"}},
		{"exists", Exists("comment"), []string{"?comment"}},
		{"not exists", NotExists("comment"), []string{"?-comment"}},
		{"less", WhereOp("mtu", OpLess, "1500"), []string{"?<mtu=1500"}},
		{"greater", WhereOp("mtu", OpGreater, "1500"), []string{"?>mtu=1500"}},
		{"not", Where("disabled", "true").Not(), []string{"?disabled=true", "?#!"}},
		{
			"and",
			Where("type", "ether").AndWhere("running", "true"),
			[]string{"?type=ether", "?running=true", "?#&"},
		},
		{
			"or",
			Where("type", "ether").OrWhereOp("type", OpEqual, "vlan"),
			[]string{"?type=ether", "?type=vlan", "?#|"},
		},
		{
			"nested",
			Where("a", "1").Or(Where("b", "2").Not()),
			[]string{"?a=1", "?b=2", "?#!", "?#|"},
		},
	}

	for _, tt := range tests {
		if got := tt.query.Words(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: Words() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestWords_ReturnsCopy(t *testing.T) {
	q := Where("name", "q1")
	words := q.Words()
	words[0] = "changed"

	if q.Words()[0] != "?name=q1" {
		t.Error("Words exposed internal slice")
	}
}

func TestZeroQuery(t *testing.T) {
	var q Query
	if len(q.Words()) != 0 {
		t.Errorf("zero query has words: %q", q.Words())
	}
	if q.String() != "" {
		t.Errorf("String() = %q, want empty", q.String())
	}
}
