package webui

import (
	"reflect"
	"testing"
)

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	if got := r.Newest(0); len(got) != 0 {
		t.Errorf("Newest() on empty = %v", got)
	}

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}

	tests := []struct {
		n    int
		want []int
	}{
		{0, []int{5, 4, 3}},
		{2, []int{5, 4}},
		{10, []int{5, 4, 3}},
	}
	for _, tt := range tests {
		if got := r.Newest(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Newest(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	if v, ok := r.Find(func(v int) bool { return v%2 == 0 }); !ok || v != 4 {
		t.Errorf("Find(even) = %d, %v", v, ok)
	}
	if _, ok := r.Find(func(v int) bool { return v == 1 }); ok {
		t.Error("Find found an overwritten entry")
	}

	if !r.Replace(func(v int) bool { return v == 3 }, 30) {
		t.Error("Replace() = false")
	}
	if got := r.Newest(0); !reflect.DeepEqual(got, []int{5, 4, 30}) {
		t.Errorf("after Replace = %v", got)
	}
	if r.Replace(func(v int) bool { return v == 99 }, 0) {
		t.Error("Replace(missing) = true")
	}
}

func TestNewRing_PanicsOnZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewRing(0) did not panic")
		}
	}()
	NewRing[string](0)
}
