package httptransport

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandler_CreationInterval(t *testing.T) {
	h := &Handler{lastCreate: make(map[string]time.Time), lastSweep: time.Now()}

	// 首次出现与空指纹都返回大间隔
	assert.Equal(t, float64(86400), h.creationInterval("fp-1"))
	assert.Equal(t, float64(86400), h.creationInterval(""))

	// 第二次调用返回真实间隔
	h.lastCreate["fp-1"] = time.Now().Add(-2 * time.Second)
	interval := h.creationInterval("fp-1")
	assert.InDelta(t, 2.0, interval, 0.5)

	// 空指纹不产生记录
	assert.NotContains(t, h.lastCreate, "")
}

func TestHandler_CreationIntervalSweepsStaleEntries(t *testing.T) {
	h := &Handler{lastCreate: make(map[string]time.Time)}

	// 大量陈旧指纹加一条新鲜记录
	for i := 0; i < 1000; i++ {
		h.lastCreate[fmt.Sprintf("stale-%d", i)] = time.Now().Add(-2 * time.Hour)
	}
	h.lastCreate["fresh"] = time.Now().Add(-time.Minute)
	h.lastSweep = time.Now().Add(-10 * time.Minute)

	h.creationInterval("fp-new")

	// 陈旧条目全部清理，新鲜条目保留
	assert.NotContains(t, h.lastCreate, "stale-0")
	assert.NotContains(t, h.lastCreate, "stale-999")
	assert.Contains(t, h.lastCreate, "fresh")
	assert.Contains(t, h.lastCreate, "fp-new")
	assert.Len(t, h.lastCreate, 2)
}
