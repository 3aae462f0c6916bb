package database

import (
	"reflect"
	"testing"
)

func TestStringArrayScan(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want StringArray
	}{
		{"nil", nil, nil},
		{"json bytes", []byte(`["u1","u2"]`), StringArray{"u1", "u2"}},
		{"json string", `["u3"]`, StringArray{"u3"}},
		{"empty", "", StringArray{}},
		{"postgres literal", `{u1,"u 2",u3}`, StringArray{"u1", "u 2", "u3"}},
		{"postgres empty", `{}`, StringArray{}},
		{"bare value", "u9", StringArray{"u9"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got StringArray
			if err := got.Scan(tc.in); err != nil {
				t.Fatalf("Scan(%v): %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Scan(%v) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestStringArrayScanRejectsUnknownType(t *testing.T) {
	var a StringArray
	if err := a.Scan(42); err == nil {
		t.Fatal("expected error for int input")
	}
}

func TestStringArrayValue(t *testing.T) {
	v, err := StringArray{"a", "b"}.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != `["a","b"]` {
		t.Fatalf("Value = %v", v)
	}

	v, err = StringArray(nil).Value()
	if err != nil || v != "[]" {
		t.Fatalf("nil Value = %v, %v", v, err)
	}
}

func TestStringArrayContains(t *testing.T) {
	a := StringArray{"x", "y"}
	if !a.Contains("y") || a.Contains("z") {
		t.Fatalf("Contains mismatch for %v", a)
	}
}
