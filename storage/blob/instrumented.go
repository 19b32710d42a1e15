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
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumented records spans, latencies and transferred bytes of a store.
type instrumented struct {
	Store
	backend string
}

// Instrument wraps a store with tracing and metrics labeled by backend.
func Instrument(store Store, backend string) Store {
	return &instrumented{Store: store, backend: backend}
}

// Unwrap returns the underlying store.
func (s *instrumented) Unwrap() Store {
	return s.Store
}

func (s *instrumented) start(operation, name string) (trace.Span, func(err error)) {
	start := time.Now()
	_, span := otel.Tracer("roller").Start(context.Background(), "blob."+operation,
		trace.WithAttributes(attribute.String("backend", s.backend), attribute.String("name", name)))
	return span, func(err error) {
		if err != nil && !errors.Is(err, errors.NotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		OperationSecondsVec.WithLabelValues(s.backend, operation).Observe(time.Since(start).Seconds())
	}
}

func (s *instrumented) Open(name string) (io.ReadCloser, error) {
	_, end := s.start(OperationOpen, name)
	r, err := s.Store.Open(name)
	end(err)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: r, counter: ReadBytesVec.WithLabelValues(s.backend)}, nil
}

// Create ends its span once the upload result is delivered.
func (s *instrumented) Create(name string) (io.WriteCloser, chan error, error) {
	_, end := s.start(OperationCreate, name)
	w, done, err := s.Store.Create(name)
	if err != nil {
		end(err)
		return nil, nil, err
	}
	counted := make(chan error, 1)
	go func() {
		err := <-done
		end(err)
		counted <- err
	}()
	return &countingWriter{WriteCloser: w, counter: WrittenBytesVec.WithLabelValues(s.backend)}, counted, nil
}

func (s *instrumented) List() ([]string, error) {
	_, end := s.start(OperationList, "")
	names, err := s.Store.List()
	end(err)
	return names, err
}

func (s *instrumented) Remove(name string) error {
	_, end := s.start(OperationRemove, name)
	err := s.Store.Remove(name)
	end(err)
	return err
}

type counter interface {
	Add(float64)
}

type countingReader struct {
	io.ReadCloser
	counter counter
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.counter.Add(float64(n))
	return n, err
}

type countingWriter struct {
	io.WriteCloser
	counter counter
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	w.counter.Add(float64(n))
	return n, err
}
