// Package duration parses durations with day and week suffixes on top of
// the units time.ParseDuration knows.
package duration

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/pflag"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

var suffixes = []struct {
	suffix string
	unit   time.Duration
}{
	{"w", Week},
	{"d", Day},
}

// Parse accepts anything time.ParseDuration does plus "1.5d" and "2w".
// A bare number is read as seconds.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	unit := time.Second
	num := s
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			unit = sf.unit
			num = strings.TrimSuffix(s, sf.suffix)
			break
		}
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, errors.Errorf("invalid duration %q", s)
	}
	return time.Duration(v * float64(unit)), nil
}

// Format prints d in whole days or weeks when it divides evenly.
func Format(d time.Duration) string {
	if d != 0 {
		for _, sf := range suffixes {
			if d%sf.unit == 0 {
				return strconv.FormatInt(int64(d/sf.unit), 10) + sf.suffix
			}
		}
	}
	return d.String()
}

// Value adapts a *time.Duration to pflag.Value using Parse.
type Value time.Duration

func (d *Value) String() string { return Format(time.Duration(*d)) }

func (d *Value) Set(s string) error {
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*d = Value(v)
	return nil
}

func (d *Value) Type() string { return "duration" }

func (d *Value) UnmarshalText(text []byte) error { return d.Set(string(text)) }

func Var(f *pflag.FlagSet, p *time.Duration, name string, value time.Duration, usage string) {
	*p = value
	f.Var((*Value)(p), name, usage)
}
