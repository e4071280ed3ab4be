package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompositeKey(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		expected string
	}{
		{
			name: "all parts present",
			record: Record{
				Divipola:      "05001",
				Matricula:     "001-12345",
				AnnotationSeq: Int(3),
				ActCode:       "125",
				Year:          Int(2021),
			},
			expected: "05001_001-12345_3_125_2021",
		},
		{
			name: "missing parts get placeholders",
			record: Record{
				Matricula: "001-12345",
			},
			expected: "UNK_001-12345_0_UNK_0",
		},
		{
			name:     "fully empty record still has stable shape",
			record:   Record{},
			expected: "UNK_UNK_0_UNK_0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.CompositeKey())
		})
	}
}

func TestCompositeKeyDeterministic(t *testing.T) {
	r := Record{
		Divipola:      "11001",
		Matricula:     "50N-987",
		AnnotationSeq: Int(1),
		ActCode:       "0125",
		Year:          Int(2019),
	}
	first := r.CompositeKey()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.CompositeKey())
	}
}

func TestInPartition(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		expected map[Partition]bool
	}{
		{
			name: "clean market record with valid value",
			record: Record{
				Quality:        QualityOK,
				MarketRelevant: true,
				ValueValid:     true,
			},
			expected: map[Partition]bool{
				PartitionComplete:   true,
				PartitionClean:      true,
				PartitionMarket:     true,
				PartitionModelReady: true,
				PartitionError:      false,
				PartitionWarning:    false,
			},
		},
		{
			name: "market record with warning stays out of model-ready",
			record: Record{
				Quality:        QualityWarning,
				MarketRelevant: true,
				ValueValid:     false,
			},
			expected: map[Partition]bool{
				PartitionComplete:   true,
				PartitionClean:      false,
				PartitionMarket:     true,
				PartitionModelReady: false,
				PartitionError:      false,
				PartitionWarning:    true,
			},
		},
		{
			name: "error record only reaches complete and errors",
			record: Record{
				Quality:        QualityError,
				MarketRelevant: true,
			},
			expected: map[Partition]bool{
				PartitionComplete:   true,
				PartitionClean:      false,
				PartitionMarket:     false,
				PartitionModelReady: false,
				PartitionError:      true,
				PartitionWarning:    false,
			},
		},
		{
			name: "clean non-market record",
			record: Record{
				Quality: QualityOK,
			},
			expected: map[Partition]bool{
				PartitionComplete:   true,
				PartitionClean:      true,
				PartitionMarket:     false,
				PartitionModelReady: false,
				PartitionError:      false,
				PartitionWarning:    false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for partition, want := range tt.expected {
				assert.Equal(t, want, tt.record.InPartition(partition),
					"partition %s", partition)
			}
		})
	}
}

func TestQualitySeverity(t *testing.T) {
	assert.Greater(t, QualityError.Severity(), QualityWarning.Severity())
	assert.Greater(t, QualityWarning.Severity(), QualityOK.Severity())
}
