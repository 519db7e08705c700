package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "}))
	assert.Empty(t, DedupeAndTrim(nil))
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "only separators", raw: " , ,", want: nil},
		{name: "brokers", raw: "kafka-1:9092, kafka-2:9092,kafka-1:9092", want: []string{"kafka-1:9092", "kafka-2:9092"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.raw))
		})
	}
}
