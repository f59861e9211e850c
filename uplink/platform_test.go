package uplink

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeIsDue(t *testing.T) {
	tests := []struct {
		name string
		now  uint32
		due  uint32
		want bool
	}{
		{"due equals now", 1000, 1000, true},
		{"due in the past", 1000, 999, true},
		{"due in the future", 1000, 1001, false},
		{"far future", 0, 1 << 30, false},

		// The counter wraps at 2^32 ms (~49.7 days); comparisons must
		// work with now and due on opposite sides of the boundary.
		{"due before wrap, now after", 100, math.MaxUint32 - 500, true},
		{"due after wrap, now before", math.MaxUint32 - 500, 100, false},
		{"both near wrap, due passed", math.MaxUint32, math.MaxUint32 - 1, true},
		{"both near wrap, due pending", math.MaxUint32 - 1, math.MaxUint32, false},
		{"due exactly at zero, now wrapped past", 5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, timeIsDue(tt.now, tt.due))
		})
	}
}

func TestSystemPlatform(t *testing.T) {
	p := SystemPlatform()

	t.Run("clock advances", func(t *testing.T) {
		first := p.NowMillis()
		assert.True(t, timeIsDue(p.NowMillis(), first))
	})

	t.Run("random values vary", func(t *testing.T) {
		seen := map[uint32]bool{}
		for i := 0; i < 16; i++ {
			seen[p.RandUint32()] = true
		}
		assert.Greater(t, len(seen), 1)
	})
}
