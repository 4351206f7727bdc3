package fs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SizeSuffix is a byte count set from flags and config with binary
// suffixes, so "64k", "64K", "64KiB" and a bare "64" all mean 64 KiB.
// "off" stores -1.
type SizeSuffix int64

// Binary multipliers
const (
	Byte SizeSuffix = 1 << (10 * iota)
	Kibi
	Mebi
	Gibi
	Tebi
	Pebi
	Exbi
)

// suffixes in increasing order of multiplier
var suffixes = []struct {
	name  string
	scale SizeSuffix
}{
	{"Ki", Kibi}, {"Mi", Mebi}, {"Gi", Gibi}, {"Ti", Tebi}, {"Pi", Pebi}, {"Ei", Exbi},
}

// String turns a SizeSuffix into the shortest exact form with a
// binary suffix, or three decimals when it isn't a whole multiple.
func (x SizeSuffix) String() string {
	if x < 0 {
		return "off"
	}
	if x < Kibi {
		return strconv.FormatInt(int64(x), 10)
	}
	i := len(suffixes) - 1
	for i > 0 && x < suffixes[i].scale {
		i--
	}
	s := suffixes[i]
	if x%s.scale == 0 {
		return fmt.Sprintf("%d%s", int64(x/s.scale), s.name)
	}
	return fmt.Sprintf("%.3f%s", float64(x)/float64(s.scale), s.name)
}

func multiplier(c byte) (SizeSuffix, bool) {
	switch c {
	case 'k', 'K':
		return Kibi, true
	case 'm', 'M':
		return Mebi, true
	case 'g', 'G':
		return Gibi, true
	case 't', 'T':
		return Tebi, true
	case 'p', 'P':
		return Pebi, true
	case 'e', 'E':
		return Exbi, true
	}
	return 0, false
}

// Set a SizeSuffix
func (x *SizeSuffix) Set(s string) error {
	if s == "" {
		return errors.New("empty size")
	}
	if strings.EqualFold(s, "off") {
		*x = -1
		return nil
	}
	num, scale := s, Kibi
	last := num[len(num)-1]
	switch {
	case last == 'b' || last == 'B':
		num = num[:len(num)-1]
		scale = Byte
		if strings.HasSuffix(num, "i") || strings.HasSuffix(num, "I") {
			num = num[:len(num)-1]
			if num == "" {
				return errors.Errorf("bad size %q", s)
			}
			m, ok := multiplier(num[len(num)-1])
			if !ok {
				return errors.Errorf("bad suffix in %q", s)
			}
			num, scale = num[:len(num)-1], m
		}
	case last == 'i' || last == 'I':
		num = num[:len(num)-1]
		if num == "" {
			return errors.Errorf("bad size %q", s)
		}
		m, ok := multiplier(num[len(num)-1])
		if !ok {
			return errors.Errorf("bad suffix in %q", s)
		}
		num, scale = num[:len(num)-1], m
	case last == '.' || (last >= '0' && last <= '9'):
	default:
		m, ok := multiplier(last)
		if !ok {
			return errors.Errorf("bad suffix in %q", s)
		}
		num, scale = num[:len(num)-1], m
	}
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return errors.Wrapf(err, "bad size %q", s)
	}
	if value < 0 {
		return errors.Errorf("size can't be negative %q", s)
	}
	*x = SizeSuffix(value * float64(scale))
	return nil
}

// Type of the value - used by pflag
func (x *SizeSuffix) Type() string {
	return "SizeSuffix"
}
