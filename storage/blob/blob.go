// Copyright 2024 gorse Project Authors
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

	"github.com/gorse-io/roller/config"
	"github.com/juju/errors"
)

// Store keeps named blobs such as persisted knowledge bases.
type Store interface {
	// Open a blob for reading. It returns an errors.NotFound error if the blob does not exist.
	Open(name string) (io.ReadCloser, error)
	// Create a blob for writing. The done channel receives the upload result
	// once the writer is closed.
	Create(name string) (io.WriteCloser, chan error, error)
	// List names of all blobs.
	List() ([]string, error)
	// Remove a blob.
	Remove(name string) error
}

// Open creates the instrumented blob store selected by the configuration.
func Open(cfg config.BlobConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case config.BlobPOSIX, "":
		store = NewPOSIX(cfg.Dir)
	case config.BlobS3:
		store, err = NewS3(cfg.S3)
	case config.BlobGCS:
		store, err = NewGCS(cfg.GCS)
	case config.BlobAzure:
		store, err = NewAzureBlob(cfg.Azure)
	default:
		return nil, errors.NotSupportedf("blob store %s", cfg.Type)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Type == "" {
		return Instrument(store, config.BlobPOSIX), nil
	}
	return Instrument(store, cfg.Type), nil
}

// Exists returns true if the blob exists in the store.
func Exists(store Store, name string) (bool, error) {
	r, err := store.Open(name)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return true, r.Close()
}

// trimPrefix converts an object key into a blob name.
func trimPrefix(key, prefix string) string {
	name := key[len(prefix):]
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}
