// Copyright 2025 gorse Project Authors
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

package blob

import (
	"io"
	"path"
	"testing"

	"github.com/gorse-io/roller/config"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPOSIX(t *testing.T) {
	// create client
	client := NewPOSIX(path.Join(t.TempDir(), "blob"))

	// list empty store
	names, err := client.List()
	assert.NoError(t, err)
	assert.Empty(t, names)

	// open missing file
	_, err = client.Open("test")
	assert.True(t, errors.Is(err, errors.NotFound))
	exist, err := Exists(client, "test")
	assert.NoError(t, err)
	assert.False(t, exist)

	// write a temp file
	w, done, err := client.Create("test")
	assert.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, <-done)

	// read the file
	r, err := client.Open("test")
	assert.NoError(t, err)
	content, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
	assert.NoError(t, r.Close())
	exist, err = Exists(client, "test")
	assert.NoError(t, err)
	assert.True(t, exist)

	// overwrite the file
	w, done, err = client.Create("test")
	assert.NoError(t, err)
	_, err = w.Write([]byte("bye"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, <-done)
	r, err = client.Open("test")
	assert.NoError(t, err)
	content, err = io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "bye", string(content))
	assert.NoError(t, r.Close())

	// list files
	names, err = client.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{"test"}, names)

	// remove file
	assert.NoError(t, client.Remove("test"))
	assert.NoError(t, client.Remove("test"))
	names, err = client.List()
	assert.NoError(t, err)
	assert.Empty(t, names)
}

func TestOpen(t *testing.T) {
	store, err := Open(config.BlobConfig{Type: config.BlobPOSIX, Dir: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &POSIX{}, store.(*instrumented).Unwrap())

	_, err = Open(config.BlobConfig{Type: "ftp"})
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestInstrument(t *testing.T) {
	store := Instrument(NewPOSIX(t.TempDir()), "test")
	written := testutil.ToFloat64(WrittenBytesVec.WithLabelValues("test"))
	read := testutil.ToFloat64(ReadBytesVec.WithLabelValues("test"))

	// missing blobs are still reported as not found
	_, err := store.Open("kb_result")
	assert.True(t, errors.Is(err, errors.NotFound))

	w, done, err := store.Create("kb_result")
	assert.NoError(t, err)
	_, err = w.Write([]byte("0,1 : 0.5 : 11"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, <-done)
	assert.Equal(t, written+14, testutil.ToFloat64(WrittenBytesVec.WithLabelValues("test")))

	r, err := store.Open("kb_result")
	assert.NoError(t, err)
	content, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.Equal(t, "0,1 : 0.5 : 11", string(content))
	assert.Equal(t, read+14, testutil.ToFloat64(ReadBytesVec.WithLabelValues("test")))

	names, err := store.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{"kb_result"}, names)
	assert.NoError(t, store.Remove("kb_result"))
}
