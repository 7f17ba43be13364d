package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/entsync/internal/ir"
)

type changeLog struct {
	ids  [][]string
	from []string
}

func (c *changeLog) listen(ids []string, fromControlID string) {
	c.ids = append(c.ids, ids)
	c.from = append(c.from, fromControlID)
}

func TestStore_SetNotifiesOnlyChanges(t *testing.T) {
	s := NewStore()
	var log changeLog
	s.Subscribe(log.listen)

	assert.Equal(t, []string{"a:x"}, s.Set(map[string]ir.IRValue{"a:x": ir.IRInt(1)}))
	assert.Empty(t, s.Set(map[string]ir.IRValue{"a:x": ir.IRInt(1)}))
	assert.Equal(t, []string{"a:x"}, s.Set(map[string]ir.IRValue{"a:x": ir.IRInt(2)}))

	assert.Len(t, log.ids, 2, "unchanged assignment is silent")
	assert.Equal(t, []string{"", ""}, log.from)

	v, ok := s.Value("a:x")
	assert.True(t, ok)
	assert.Equal(t, ir.IRInt(2), v)
}

func TestStore_Unset(t *testing.T) {
	s := NewStore()
	s.Set(map[string]ir.IRValue{"a:x": ir.IRInt(1)})
	var log changeLog
	s.Subscribe(log.listen)

	assert.Equal(t, []string{"a:x"}, s.Unset("a:x", "a:missing"))
	assert.Empty(t, s.Unset("a:x"))
	assert.Len(t, log.ids, 1)

	_, ok := s.Value("a:x")
	assert.False(t, ok)
}

func TestStore_SetLocalReportsBothLabels(t *testing.T) {
	s := NewStore()
	var log changeLog
	s.Subscribe(log.listen)

	s.SetLocal("c1", map[string]ir.IRValue{"step": ir.IRInt(1)})

	assert.Equal(t, [][]string{{"this:step", "local:step"}}, log.ids)
	assert.Equal(t, []string{"c1"}, log.from)

	v, ok := s.LocalValue("c1", "step")
	assert.True(t, ok)
	assert.Equal(t, ir.IRInt(1), v)
	_, ok = s.LocalValue("c2", "step")
	assert.False(t, ok)

	s.ForgetControl("c1")
	_, ok = s.LocalValue("c1", "step")
	assert.False(t, ok)
	assert.Len(t, log.ids, 1, "forget does not notify")
}
