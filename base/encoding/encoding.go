// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package encoding

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/juju/errors"
)

// FormatBitSet writes a bitset as '0'/'1' characters, index 0 first. The text
// always has b.Len() characters so the length survives a round trip.
func FormatBitSet(b *bitset.BitSet) string {
	var builder strings.Builder
	builder.Grow(int(b.Len()))
	for i := uint(0); i < b.Len(); i++ {
		if b.Test(i) {
			builder.WriteByte('1')
		} else {
			builder.WriteByte('0')
		}
	}
	return builder.String()
}

// ParseBitSet is the inverse of FormatBitSet.
func ParseBitSet(s string) (*bitset.BitSet, error) {
	s = strings.TrimSpace(s)
	b := bitset.New(uint(len(s)))
	for i, c := range s {
		switch c {
		case '1':
			b.Set(uint(i))
		case '0':
		default:
			return nil, errors.NotValidf("bitset character %q at %d", c, i)
		}
	}
	return b, nil
}

// FormatInts joins integers with sep.
func FormatInts(values []int, sep string) string {
	var builder strings.Builder
	for i, v := range values {
		if i > 0 {
			builder.WriteString(sep)
		}
		builder.WriteString(strconv.Itoa(v))
	}
	return builder.String()
}

// ParseInts splits s by sep and parses every field. Empty fields are errors.
func ParseInts(s, sep string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, sep)
	values := make([]int, len(fields))
	for i, field := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Trace(err)
		}
		values[i] = v
	}
	return values, nil
}

// FormatFloat64 formats a float with the shortest representation that parses back exactly.
func FormatFloat64(val float64) string {
	return strconv.FormatFloat(val, 'g', -1, 64)
}
