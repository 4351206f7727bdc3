// Package configfile loads the line oriented "key = value" config
// file format.
//
// Lines starting with '#' are comments.  Keys and values have
// surrounding white space trimmed.  Keys must appear before any
// "[section]" header, which mtfs config files don't use.
package configfile

import (
	"os"
	"strings"

	"github.com/Unknwon/goconfig"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/config/configmap"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// Load reads the config file at path into a configmap.Simple
func Load(path string) (configmap.Simple, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to expand config path %q", path)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	m, err := LoadString(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", expanded)
	}
	fs.Debugf(nil, "Loaded %d config items from %q", len(m), expanded)
	return m, nil
}

// LoadString parses config file data into a configmap.Simple
func LoadString(data string) (configmap.Simple, error) {
	gc, err := goconfig.LoadFromData([]byte(data))
	if err != nil {
		return nil, err
	}
	m := configmap.Simple{}
	for _, key := range gc.GetKeyList(goconfig.DEFAULT_SECTION) {
		value, err := gc.GetValue(goconfig.DEFAULT_SECTION, key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %q", key)
		}
		m.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return m, nil
}

// Getter returns a configmap.Getter for the file at path.  A missing
// file gives an empty Getter so that defaults apply.
func Getter(path string) (configmap.Getter, error) {
	if path == "" {
		return configmap.Simple{}, nil
	}
	m, err := Load(path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			fs.Debugf(nil, "Config file %q not found - using defaults", path)
			return configmap.Simple{}, nil
		}
		return nil, err
	}
	return m, nil
}
