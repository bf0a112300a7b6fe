package services

import (
	"math"
	"testing"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.125, -1.5, 0, 3.25, 0.1}

	encoded := EncodeVector(vec)
	if encoded[0] != '[' || encoded[len(encoded)-1] != ']' {
		t.Fatalf("encoded form %q is not bracketed", encoded)
	}

	decoded, err := DecodeVector(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("decoded %d components, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("component %d = %v, want %v", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeVectorMalformed(t *testing.T) {
	for _, input := range []string{"", "0.1,0.2", "[0.1,0.2", "0.1,0.2]", "[a,b]"} {
		if _, err := DecodeVector(input); err == nil {
			t.Errorf("DecodeVector(%q) should fail", input)
		}
	}

	empty, err := DecodeVector("[]")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("DecodeVector(\"[]\") = %v, want empty", empty)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampScore(t *testing.T) {
	if got := clampScore(-0.3); got != 0 {
		t.Errorf("clampScore(-0.3) = %v, want 0", got)
	}
	if got := clampScore(1.2); got != 1 {
		t.Errorf("clampScore(1.2) = %v, want 1", got)
	}
	if got := clampScore(0.42); got != 0.42 {
		t.Errorf("clampScore(0.42) = %v, want 0.42", got)
	}
}
