package thu

import (
	"fmt"

	"github.com/nik-sm/thu-rsvp-go/matfile"
	"github.com/nik-sm/thu-rsvp-go/trials"
)

// Matrix names inside each session MAT-file.
const (
	matrixBlock1 = "EEGdata1"
	matrixBlock2 = "EEGdata2"
	matrixOnsets = "trigger_positions"
	matrixLabels = "class_labels"
)

// ReadSessionFile loads one recorded session. Each file holds the two
// continuous signal blocks of the session plus a 2 x N onset matrix and a
// 2 x N label matrix with one row per block.
func ReadSessionFile(path string) (*trials.SessionRecord, error) {
	f, err := matfile.Open(path)
	if err != nil {
		return nil, err
	}

	block1, err := f.Matrix(matrixBlock1)
	if err != nil {
		return nil, err
	}
	block2, err := f.Matrix(matrixBlock2)
	if err != nil {
		return nil, err
	}
	onsets, err := f.Matrix(matrixOnsets)
	if err != nil {
		return nil, err
	}
	labels, err := f.Matrix(matrixLabels)
	if err != nil {
		return nil, err
	}
	if onsets.Rows != 2 {
		return nil, fmt.Errorf("%s has %d rows, want one per block", matrixOnsets, onsets.Rows)
	}
	if labels.Rows != 2 {
		return nil, fmt.Errorf("%s has %d rows, want one per block", matrixLabels, labels.Rows)
	}

	return &trials.SessionRecord{
		Block1:  block1.Float32Matrix(),
		Block2:  block2.Float32Matrix(),
		Onsets1: onsets.IntRow(0),
		Onsets2: onsets.IntRow(1),
		Labels1: labels.IntRow(0),
		Labels2: labels.IntRow(1),
	}, nil
}
