// Copyright 2023 gorse Project Authors
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

package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKeyType string

var spanKeyName = spanKeyType(uuid.New().String())

type Status string

const (
	StatusPending  Status = "Pending"
	StatusComplete Status = "Complete"
	StatusRunning  Status = "Running"
	StatusFailed   Status = "Failed"
)

// Tracer keeps the root spans of long-running jobs such as learning a
// knowledge base, so that their progress can be listed.
type Tracer struct {
	name  string
	spans sync.Map
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name}
}

// Start creates a root span.
func (t *Tracer) Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := newSpan(nil, name, total)
	t.spans.Store(name, span)
	return context.WithValue(ctx, spanKeyName, span), span
}

// List returns the progress of root spans ordered by start time.
func (t *Tracer) List() []Progress {
	var progress []Progress
	t.spans.Range(func(key, value interface{}) bool {
		p := value.(*Span).Progress()
		p.Tracer = t.name
		progress = append(progress, p)
		return true
	})
	sort.Slice(progress, func(i, j int) bool {
		return progress[i].StartTime.Before(progress[j].StartTime)
	})
	return progress
}

type Span struct {
	mu       sync.Mutex
	parent   *Span
	name     string
	status   Status
	total    int
	count    int
	err      string
	start    time.Time
	finish   time.Time
	children sync.Map
}

func newSpan(parent *Span, name string, total int) *Span {
	return &Span{
		parent: parent,
		name:   name,
		status: StatusRunning,
		total:  total,
		start:  time.Now(),
	}
}

// Add is safe to call from multiple goroutines.
func (s *Span) Add(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += n
}

func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		s.status = StatusComplete
		s.count = s.total
		s.finish = time.Now()
	}
}

// Fail marks the span and all of its ancestors as failed.
func (s *Span) Fail(err error) {
	for span := s; span != nil; span = span.parent {
		span.mu.Lock()
		span.status = StatusFailed
		span.err = err.Error()
		if span.finish.IsZero() {
			span.finish = time.Now()
		}
		span.mu.Unlock()
	}
}

func (s *Span) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Progress folds the first running child into the span: a root span at 10/100
// with a running child at 2/8 reports 82/800.
func (s *Span) Progress() Progress {
	var running []Progress
	s.children.Range(func(key, value interface{}) bool {
		child := value.(*Span).Progress()
		if child.Status == StatusRunning {
			running = append(running, child)
		}
		return true
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{
		Name:       s.name,
		Status:     s.status,
		Error:      s.err,
		Count:      s.count,
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
	if s.status == StatusRunning && len(running) > 0 {
		child := running[0]
		p.Total = s.total * child.Total
		p.Count = s.count*child.Total + child.Count
	}
	return p
}

// Start creates a child of the span carried by ctx. Without a parent span the
// returned span is detached and nobody lists it.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	if ctx == nil {
		return nil, newSpan(nil, name, total)
	}
	parent, ok := ctx.Value(spanKeyName).(*Span)
	if !ok {
		span := newSpan(nil, name, total)
		return context.WithValue(ctx, spanKeyName, span), span
	}
	span := newSpan(parent, name, total)
	parent.children.Store(name, span)
	return context.WithValue(ctx, spanKeyName, span), span
}

// Fail marks the span carried by ctx as failed.
func Fail(ctx context.Context, err error) {
	if ctx == nil {
		return
	}
	if span, ok := ctx.Value(spanKeyName).(*Span); ok {
		span.Fail(err)
	}
}

type Progress struct {
	Tracer     string
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
}
