package dispatcher

import (
	"testing"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  int
	}{
		{"absent", "", modelqueue.PriorityLow},
		{"student upper case", "4MT2021@mite.ac.in", modelqueue.PriorityLow},
		{"student lower case", "4mt21cs001@mite.ac.in", modelqueue.PriorityLow},
		{"student without domain", "4Mt", modelqueue.PriorityLow},
		{"staff", "faculty@mite.ac.in", modelqueue.PriorityHigh},
		{"prefix not at start", "x4MT@mite.ac.in", modelqueue.PriorityHigh},
		{"prefix only in domain", "staff@4mt.ac.in", modelqueue.PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPriority(tt.email))
			assert.Equal(t, tt.want, ClassifyPriority(tt.email))
		})
	}
}
