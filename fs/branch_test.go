package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagIsValid(t *testing.T) {
	assert.True(t, FlagIsValid(0))
	assert.True(t, FlagIsValid(FlagDataBad|FlagXattrBad))
	assert.False(t, FlagIsValid(FlagAbsent))
	assert.False(t, FlagIsValid(0x100))
}

func TestFlagSatisfies(t *testing.T) {
	for _, test := range []struct {
		flag  uint32
		class ValidClass
		want  bool
	}{
		{0, DataValid, true},
		{FlagDataBad, BranchValid, true},
		{FlagDataBad, DataValid, false},
		{FlagDataBad, AttrValid, true},
		{FlagAttrBad, DataValid | AttrValid, false},
		{FlagXattrBad, XattrValid, false},
	} {
		assert.Equal(t, test.want, FlagSatisfies(test.flag, test.class), "%#x %v", test.flag, test.class)
	}
}

func TestValidClassString(t *testing.T) {
	assert.Equal(t, "data", DataValid.String())
	assert.Equal(t, "ValidClass(48)", ValidClass(48).String())
}
