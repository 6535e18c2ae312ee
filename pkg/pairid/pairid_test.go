package pairid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionIDOrderIndependent(t *testing.T) {
	assert.Equal(t, ConnectionID(1, 2), ConnectionID(2, 1))
	assert.Equal(t, ConnectionID(42, 7), ConnectionID(7, 42))
}

func TestConnectionIDDeterministic(t *testing.T) {
	first := ConnectionID(100, 200)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ConnectionID(100, 200))
	}
}

func TestConnectionIDCollisionFree(t *testing.T) {
	seen := make(map[string]string)
	for a := int64(1); a <= 50; a++ {
		for b := a + 1; b <= 50; b++ {
			id := ConnectionID(a, b)
			pair := string(rune(a)) + ":" + string(rune(b))
			if prev, ok := seen[id]; ok {
				t.Fatalf("连接ID碰撞: %s 与 %s 都得到 %s", prev, pair, id)
			}
			seen[id] = pair
		}
	}
}

func TestNormalize(t *testing.T) {
	lo, hi := Normalize(9, 3)
	assert.Equal(t, int64(3), lo)
	assert.Equal(t, int64(9), hi)

	lo, hi = Normalize(3, 9)
	assert.Equal(t, int64(3), lo)
	assert.Equal(t, int64(9), hi)
}
