// Copyright 2021 gorse Project Authors
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

package base

import (
	"bufio"
	"strings"
)

// ReadLines parses fields of each record of a csv stream. Quoted fields may
// contain the separator, doubled quotes and line breaks. The handler receives
// the record number and stops the scan by returning false.
func ReadLines(sc *bufio.Scanner, sep string, handler func(int, []string) bool) error {
	var (
		lineCount int
		fields    []string
		builder   strings.Builder
		quoted    bool
	)
	for sc.Scan() {
		line := []rune(sc.Text())
		if quoted {
			// the scanner dropped the line break inside a quoted field
			builder.WriteString("\r\n")
		}
		for i := 0; i < len(line); i++ {
			switch {
			case string(line[i]) == sep && !quoted:
				fields = append(fields, builder.String())
				builder.Reset()
			case line[i] == '"' && !quoted:
				quoted = true
			case line[i] == '"' && i+1 < len(line) && line[i+1] == '"':
				builder.WriteRune('"')
				i++
			case line[i] == '"':
				quoted = false
			default:
				builder.WriteRune(line[i])
			}
		}
		if !quoted {
			fields = append(fields, builder.String())
			builder.Reset()
			if !handler(lineCount, fields) {
				return nil
			}
			fields = nil
		}
		lineCount++
	}
	return sc.Err()
}
