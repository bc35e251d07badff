package inference

import (
	"math"
	"testing"
	"time"

	"tabimport/internal/decoder"
	"tabimport/internal/model"
)

func TestInferTypeStrings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want model.ColumnType
	}{
		{"42", model.TypeSmallint},
		{"-32768", model.TypeSmallint},
		{"32768", model.TypeInteger},
		{"-2147483648", model.TypeInteger},
		{"2147483648", model.TypeBigint},
		{"99999999999999999999999", model.TypeBigint},
		{"3.14", model.TypeNumeric},
		{"10.0", model.TypeNumeric},
		{".5", model.TypeNumeric},
		{"1e5", model.TypeSmallint}, // parseInt stops at "e"
		{"0x1F", model.TypeSmallint},
		{"Infinity", model.TypeBigint},
		{" 7 ", model.TypeSmallint},
		{"1", model.TypeSmallint}, // number wins over boolean
		{"0", model.TypeBoolean}, // zero is not taken by the number rule
		{"0.0", model.TypeText},
		{"-0", model.TypeText},
		{"123", model.TypeSmallint},
		{"40000", model.TypeInteger},
		{"3000000000", model.TypeBigint},
		{"12.5", model.TypeNumeric},
		{"2024-01-01", model.TypeDate},
		{"2024-01-01T10:00:00", model.TypeTimestamp},
		{"2024-01-15", model.TypeDate},
		{"15/01/2024", model.TypeDate},
		{"January 15, 2024", model.TypeDate},
		{"2024-01-15 10:30:00", model.TypeTimestamp},
		{"2024-01-15T10:30:00Z", model.TypeTimestamp},
		{"true", model.TypeBoolean},
		{"Yes", model.TypeBoolean},
		{"sim", model.TypeBoolean},
		{"NÃO", model.TypeBoolean},
		{"f", model.TypeBoolean},
		{"hello", model.TypeText},
		{"", model.TypeText},
		{"a@b.com", model.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := InferType(tt.in); got != tt.want {
				t.Fatalf("InferType(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInferTypeNative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want model.ColumnType
	}{
		{"nil", nil, model.TypeText},
		{"int64 small", int64(12), model.TypeSmallint},
		{"int64 big", int64(1) << 40, model.TypeBigint},
		{"float integral", float64(70000), model.TypeInteger},
		{"float fraction", 2.5, model.TypeNumeric},
		{"float inf", math.Inf(1), model.TypeBigint},
		{"bool", false, model.TypeBoolean},
		{"midnight", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), model.TypeDate},
		{"with clock", time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC), model.TypeTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferType(tt.in); got != tt.want {
				t.Fatalf("InferType(%#v) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsJSNumber(t *testing.T) {
	t.Parallel()

	yes := []string{"0", "-1", "+2", "3.", ".4", "5e-3", "6E+2", "0b101", "0o17", "0xff", "-Infinity", "\t8\n"}
	no := []string{"", " ", ".", "e5", "1e", "1,000", "1_000", "NaN", "inf", "-0x10", "0x", "1.2.3", "12abc"}
	for _, s := range yes {
		if !isJSNumber(s) {
			t.Errorf("isJSNumber(%q) = false; want true", s)
		}
	}
	for _, s := range no {
		if isJSNumber(s) {
			t.Errorf("isJSNumber(%q) = true; want false", s)
		}
	}
}

func TestJSParseInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12abc", 12, true},
		{"-7", -7, true},
		{"0x10", 16, true},
		{"1e9", 1, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := jsParseInt(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("jsParseInt(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestInferColumnsUsesFirstRowOnly(t *testing.T) {
	t.Parallel()

	cols := decoder.BuildColumns([]string{"id", "note", "when"}, nil)
	first := decoder.GetRow(3)
	first.V[0] = "1"
	first.V[2] = "2024-03-01"

	got := InferColumns(cols, first)
	want := []model.ColumnType{model.TypeSmallint, model.TypeText, model.TypeDate}
	for i, d := range got {
		if d.InferredType != want[i] {
			t.Fatalf("col %d type = %q; want %q", i, d.InferredType, want[i])
		}
		if d.Index != i || d.Name != cols[i].Name {
			t.Fatalf("col %d descriptor = %+v", i, d)
		}
	}
	if !got[1].Nullable || got[0].Nullable {
		t.Fatalf("nullable flags = %v %v", got[0].Nullable, got[1].Nullable)
	}

	empty := InferColumns(cols, nil)
	for _, d := range empty {
		if d.InferredType != model.TypeText {
			t.Fatalf("no-row type = %q; want text", d.InferredType)
		}
	}
}
