package configmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	_ Mapper = Simple(nil)
	_ Getter = Simple(nil)
	_ Setter = Simple(nil)
	_ Getter = Prefixed{}
	_ Mapper = (*Map)(nil)
)

func TestConfigMapGet(t *testing.T) {
	m := New()

	value, found := m.Get("config1")
	assert.Equal(t, "", value)
	assert.Equal(t, false, found)

	m1 := Simple{
		"config1": "one",
	}
	m.AddGetter(m1)

	value, found = m.Get("config1")
	assert.Equal(t, "one", value)
	assert.Equal(t, true, found)

	value, found = m.Get("config2")
	assert.Equal(t, "", value)
	assert.Equal(t, false, found)

	m2 := Simple{
		"config1": "one2",
		"config2": "two2",
	}
	m.AddGetter(m2)

	value, found = m.Get("config1")
	assert.Equal(t, "one", value)
	assert.Equal(t, true, found)

	value, found = m.Get("config2")
	assert.Equal(t, "two2", value)
	assert.Equal(t, true, found)
}

func TestConfigMapSet(t *testing.T) {
	m := New()

	m1 := Simple{
		"config1": "one",
	}
	m2 := Simple{
		"config1": "one2",
		"config2": "two2",
	}

	m.AddSetter(m1).AddSetter(m2)

	m.Set("config2", "potato")

	assert.Equal(t, Simple{
		"config1": "one",
		"config2": "potato",
	}, m1)
	assert.Equal(t, Simple{
		"config1": "one2",
		"config2": "potato",
	}, m2)
}

func TestPrefixed(t *testing.T) {
	m := Simple{
		"branch0_root": "/a",
		"branch1_root": "/b",
	}
	value, found := Prefixed{Prefix: "branch1_", Getter: m}.Get("root")
	assert.True(t, found)
	assert.Equal(t, "/b", value)
	_, found = Prefixed{Prefix: "branch2_", Getter: m}.Get("root")
	assert.False(t, found)
}

func TestSimpleString(t *testing.T) {
	assert.Equal(t, "", Simple(nil).String())
	assert.Equal(t, "apple = 1\nbanana = two words\n", Simple{
		"banana": "two words",
		"apple":  "1",
	}.String())
}
