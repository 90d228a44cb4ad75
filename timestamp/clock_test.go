package timestamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/content"
)

func TestClock(t *testing.T) {
	c := NewClock(0)
	assert.Equal(t, Timestamp(1), c.Tick())
	assert.Equal(t, Timestamp(2), c.Tick())
	assert.Equal(t, Timestamp(11), c.Observe(10))
	assert.Equal(t, Timestamp(12), c.Observe(3))
	assert.Equal(t, Timestamp(12), c.Now())
}

func TestServicePerDomain(t *testing.T) {
	s := NewService()
	a := content.DomainFromName("a")
	b := content.DomainFromName("b")
	assert.Equal(t, Timestamp(1), s.Tick(a))
	assert.Equal(t, Timestamp(2), s.Tick(a))
	assert.Equal(t, Timestamp(1), s.Tick(b))
	assert.Equal(t, Timestamp(2), s.Now(a))
	assert.Equal(t, Timestamp(6), s.Observe(b, 5))

	c := s.Clock(a)
	assert.Equal(t, Timestamp(3), c.Tick())
	assert.Equal(t, Timestamp(2), s.Now(a))
}

func TestLess(t *testing.T) {
	a := content.DomainFromName("a")
	b := content.DomainFromName("b")
	assert.True(t, Less(1, b, 2, a))
	assert.Equal(t, content.EntityID(a).Less(content.EntityID(b)), Less(3, a, 3, b))
}

func TestTimeMap(t *testing.T) {
	m := NewTimeMap()
	d := content.DomainFromName("chain")
	require.True(t, m.Update(TimeMapEntry{Domain: d, Height: 5, Timestamp: 50}))
	require.False(t, m.Update(TimeMapEntry{Domain: d, Height: 4, Timestamp: 40}))
	e, ok := m.Get(d)
	require.True(t, ok)
	assert.Equal(t, uint64(5), e.Height)
	assert.Len(t, m.Entries(), 1)
}
