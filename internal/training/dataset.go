// Package training fits a classification pipeline on uploaded
// tabular datasets: standard scaling, PCA and multinomial logistic regression.
package training

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrParse    = errors.New("dataset parse error")
	ErrTooSmall = errors.New("dataset too small")
)

// Dataset holds numeric features and string class labels. The label is the
// last CSV column; every other column is a feature.
type Dataset struct {
	FeatureNames []string
	LabelName    string
	X            [][]float64
	Y            []string
}

func (d *Dataset) Len() int {
	return len(d.Y)
}

// ParseCSV reads a CSV document with a header row.
func ParseCSV(data []byte) (*Dataset, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}

	header := records[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: need at least one feature column and a label column, got %d column(s)",
			ErrParse, len(header))
	}
	if len(records) == 1 {
		return nil, fmt.Errorf("%w: no data rows", ErrParse)
	}

	nFeatures := len(header) - 1
	ds := &Dataset{
		FeatureNames: header[:nFeatures],
		LabelName:    header[nFeatures],
		X:            make([][]float64, 0, len(records)-1),
		Y:            make([]string, 0, len(records)-1),
	}

	for i, rec := range records[1:] {
		line := i + 2
		row := make([]float64, nFeatures)
		for j := 0; j < nFeatures; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %q is not numeric",
					ErrParse, line, header[j], rec[j])
			}
			row[j] = v
		}
		label := strings.TrimSpace(rec[nFeatures])
		if label == "" {
			return nil, fmt.Errorf("%w: line %d: empty label", ErrParse, line)
		}
		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, label)
	}
	return ds, nil
}
