package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubemux/tubemux/internal/models"
)

func testCatalog(mediaKey string) *models.FormatCatalog {
	return &models.FormatCatalog{
		MediaKey: mediaKey,
		Formats:  []models.FormatDescriptor{{ID: "22", Kind: models.KindVideo}},
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCache_GetPut(t *testing.T) {
	t.Run("miss on empty cache", func(t *testing.T) {
		c := NewCache(time.Hour, nil)
		assert.Nil(t, c.Get("abc", models.KindVideo))
	})

	t.Run("hit after put", func(t *testing.T) {
		c := NewCache(time.Hour, nil)
		cat := testCatalog("abc")
		c.Put("abc", models.KindVideo, cat)

		got := c.Get("abc", models.KindVideo)
		require.NotNil(t, got)
		assert.Same(t, cat, got)
	})

	t.Run("kind is part of the key", func(t *testing.T) {
		c := NewCache(time.Hour, nil)
		c.Put("abc", models.KindVideo, testCatalog("abc"))

		assert.NotNil(t, c.Get("abc", models.KindVideo))
		assert.Nil(t, c.Get("abc", models.KindAudio))
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		c := NewCache(time.Hour, nil).WithClock(clock.Now)

		c.Put("abc", models.KindVideo, testCatalog("abc"))
		assert.NotNil(t, c.Get("abc", models.KindVideo))

		clock.Advance(time.Hour + time.Second)
		assert.Nil(t, c.Get("abc", models.KindVideo))
	})

	t.Run("put refreshes the deadline", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		c := NewCache(time.Hour, nil).WithClock(clock.Now)

		c.Put("abc", models.KindVideo, testCatalog("abc"))
		clock.Advance(50 * time.Minute)
		c.Put("abc", models.KindVideo, testCatalog("abc"))
		clock.Advance(50 * time.Minute)

		assert.NotNil(t, c.Get("abc", models.KindVideo))
	})
}

func TestCache_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := NewCache(time.Hour, nil).WithClock(clock.Now)

	c.Put("aaa", models.KindVideo, testCatalog("aaa"))
	c.Put("bbb", models.KindVideo, testCatalog("bbb"))
	clock.Advance(30 * time.Minute)
	c.Put("ccc", models.KindVideo, testCatalog("ccc"))

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 0, c.Sweep())

	clock.Advance(45 * time.Minute)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.Get("ccc", models.KindVideo))
}

func TestCache_ZeroTTLUsesDefault(t *testing.T) {
	c := NewCache(0, nil)
	assert.Equal(t, DefaultTTL, c.ttl)
}
