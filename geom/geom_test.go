package geom

import "testing"

func TestUnion(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want Box
	}{
		{
			name: "disjoint",
			a:    Box{X: 0, Y: 0, Width: 10, Height: 10},
			b:    Box{X: 20, Y: 20, Width: 5, Height: 5},
			want: Box{X: 0, Y: 0, Width: 25, Height: 25},
		},
		{
			name: "contained",
			a:    Box{X: 0, Y: 0, Width: 100, Height: 100},
			b:    Box{X: 10, Y: 10, Width: 5, Height: 5},
			want: Box{X: 0, Y: 0, Width: 100, Height: 100},
		},
		{
			name: "empty accumulator",
			a:    Box{},
			b:    Box{X: 3, Y: 4, Width: 5, Height: 6},
			want: Box{X: 3, Y: 4, Width: 5, Height: 6},
		},
		{
			name: "empty operand",
			a:    Box{X: 3, Y: 4, Width: 5, Height: 6},
			b:    Box{},
			want: Box{X: 3, Y: 4, Width: 5, Height: 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Union(tt.b); got != tt.want {
				t.Errorf("Union = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIntersection(t *testing.T) {
	a := Box{X: 0, Y: 0, Width: 10, Height: 10}
	b := Box{X: 5, Y: 5, Width: 10, Height: 10}
	got := a.Intersection(b)
	want := Box{X: 5, Y: 5, Width: 5, Height: 5}
	if got != want {
		t.Errorf("Intersection = %+v, want %+v", got, want)
	}

	c := Box{X: 50, Y: 50, Width: 1, Height: 1}
	if got := a.Intersection(c); !got.Empty() {
		t.Errorf("disjoint intersection should be empty, got %+v", got)
	}
}

func TestContainedIn(t *testing.T) {
	word := Box{X: 10, Y: 10, Width: 10, Height: 10}
	entity := Box{X: 0, Y: 0, Width: 15, Height: 15}

	// 25% of the word overlaps the entity box.
	if !word.ContainedIn(entity, 0.2) {
		t.Error("expected containment at threshold 0.2")
	}
	if word.ContainedIn(entity, 0.5) {
		t.Error("did not expect containment at threshold 0.5")
	}
	if (Box{}).ContainedIn(entity, 0.0) {
		t.Error("degenerate box must never be contained")
	}
}

func TestScaleClamp(t *testing.T) {
	b := Box{X: 10, Y: 20, Width: 30, Height: 40}
	s := b.Scale(2, 0.5)
	want := Box{X: 20, Y: 10, Width: 60, Height: 20}
	if s != want {
		t.Errorf("Scale = %+v, want %+v", s, want)
	}

	clamped := Box{X: -5, Y: -5, Width: 20, Height: 20}.Clamp(10, 10)
	want = Box{X: 0, Y: 0, Width: 10, Height: 10}
	if clamped != want {
		t.Errorf("Clamp = %+v, want %+v", clamped, want)
	}
}
