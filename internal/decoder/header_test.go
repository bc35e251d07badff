package decoder

import (
	"reflect"
	"testing"
)

func TestBuildColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    []string
		rename map[string]string
		want   []string
	}{
		{"plain", []string{"id", "name"}, nil, []string{"id", "name"}},
		{"duplicates", []string{"a", "a", "a"}, nil, []string{"a", "a_2", "a_3"}},
		{"literal suffix reserved", []string{"id", "id", "id_2"}, nil, []string{"id", "id_3", "id_2"}},
		{"empty header", []string{"x", "", " "}, nil, []string{"x", "column_2", "column_3"}},
		{"bom and spaces", []string{"\uFEFF id ", "v"}, nil, []string{"id", "v"}},
		{"rename", []string{"Nome", "E-mail"}, map[string]string{"Nome": "name", "E-mail": "email"}, []string{"name", "email"}},
		{"rename collides", []string{"a", "b"}, map[string]string{"b": "a"}, []string{"a", "a_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cols := BuildColumns(tt.raw, tt.rename)
			if got := Names(cols); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("names = %v; want %v", got, tt.want)
			}
			for i, c := range cols {
				if c.Index != i {
					t.Fatalf("cols[%d].Index = %d", i, c.Index)
				}
			}
		})
	}
}

func TestBuildColumnsDeterministic(t *testing.T) {
	t.Parallel()

	raw := []string{"k", "k", "", "k_2", "k", ""}
	first := Names(BuildColumns(raw, nil))
	for i := 0; i < 20; i++ {
		if got := Names(BuildColumns(raw, nil)); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: %v != %v", i, got, first)
		}
	}
}
