package trials

import "testing"

func TestTensorAccessors(t *testing.T) {
	tensor := NewTensor(2, 3, 4)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i)
	}

	if tensor.N() != 2 || tensor.Channels() != 3 || tensor.Samples() != 4 {
		t.Fatalf("shape %v, want [2 3 4]", tensor.Shape)
	}
	if tensor.TrialElems() != 12 {
		t.Fatalf("TrialElems() = %d, want 12", tensor.TrialElems())
	}
	if tensor.SizeBytes() != 2*3*4*4 {
		t.Fatalf("SizeBytes() = %d, want %d", tensor.SizeBytes(), 2*3*4*4)
	}

	if got := tensor.At(1, 2, 3); got != 23 {
		t.Fatalf("At(1,2,3) = %v, want 23", got)
	}

	flat := tensor.TrialAt(1)
	if len(flat) != 12 || flat[0] != 12 {
		t.Fatalf("TrialAt(1) starts with %v, want 12", flat[0])
	}

	rows := tensor.Trial(1)
	if len(rows) != 3 || len(rows[0]) != 4 {
		t.Fatalf("Trial(1) is %dx%d, want 3x4", len(rows), len(rows[0]))
	}
	if rows[2][3] != 23 {
		t.Fatalf("Trial(1)[2][3] = %v, want 23", rows[2][3])
	}

	// Views alias the buffer.
	rows[0][0] = -1
	if tensor.Data[12] != -1 {
		t.Fatal("Trial views should alias the flat buffer")
	}
}

func TestTensorToGomlx(t *testing.T) {
	tensor := NewTensor(3, 2, 5)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i)
	}

	gt := tensor.ToGomlx()
	if gt == nil {
		t.Fatal("ToGomlx returned nil")
	}
}
