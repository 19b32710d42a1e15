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

package pattern

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/roller/base/encoding"
	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/base/progress"
	"github.com/gorse-io/roller/dataset"
	"github.com/gorse-io/roller/storage/blob"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultMaxPatterns = 50

	resultSuffix = "_result"
	bitmapSuffix = "_bitmap"
	resultHeader = "# roller result v1"
	bitmapHeader = "# roller bitmap v1"
	fieldSep     = ":"
	idSep        = ","
)

// Record is a pattern with its bit ids materialized as a bitset over the bit
// id space.
type Record struct {
	Pattern
	BitSet *bitset.BitSet
}

func newRecord(pattern Pattern, numBits int) *Record {
	return &Record{
		Pattern: pattern,
		BitSet:  NewBitSet(numBits, pattern.BitIds...),
	}
}

// KnowledgeBase owns mined patterns and the bit id dictionary. Queries may run
// concurrently with each other and with Learn or Load, which swap state
// atomically once they succeed.
type KnowledgeBase struct {
	mu          sync.RWMutex
	records     []*Record
	dict        *Dictionary
	maxPatterns int
}

// NewKnowledgeBase creates an empty knowledge base. Queries consult at most
// maxPatterns records.
func NewKnowledgeBase(maxPatterns int) *KnowledgeBase {
	if maxPatterns <= 0 {
		maxPatterns = DefaultMaxPatterns
	}
	return &KnowledgeBase{
		dict:        NewDictionary(),
		maxPatterns: maxPatterns,
	}
}

// Learn mines patterns from a dataset and replaces the content of the
// knowledge base. On error the previous content is kept.
func (kb *KnowledgeBase) Learn(ctx context.Context, ds Dataset, miner Miner, minSup float64, jobs int) (err error) {
	start := time.Now()
	ctx, traceSpan := otel.Tracer("roller").Start(ctx, "KnowledgeBase.Learn",
		trace.WithAttributes(attribute.String("miner", miner.Name())))
	defer traceSpan.End()
	newCtx, span := progress.Start(ctx, "Learn", 2)
	defer func() {
		if err != nil {
			span.Fail(err)
			traceSpan.RecordError(err)
			traceSpan.SetStatus(codes.Error, err.Error())
		} else {
			span.End()
		}
	}()

	// build incidence
	incidence, err := NewIncidence(newCtx, ds, jobs)
	if err != nil {
		return errors.Trace(err)
	}
	span.Add(1)
	if err = ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	// mine patterns
	if minSup <= 0 {
		minSup = incidence.MinSupport()
	}
	patterns := miner.Mine(incidence, minSup)
	records := make([]*Record, len(patterns))
	for i, pattern := range patterns {
		records[i] = newRecord(pattern, incidence.Len())
	}
	span.Add(1)
	if err = ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	kb.mu.Lock()
	kb.records = records
	kb.dict = incidence.Dictionary()
	kb.mu.Unlock()

	PatternsTotal.Set(float64(len(records)))
	LearnSeconds.Set(time.Since(start).Seconds())
	traceSpan.SetAttributes(
		attribute.Int("n_bits", incidence.Len()),
		attribute.Int("n_patterns", len(records)),
		attribute.Float64("min_support", minSup))
	log.Logger().Info("learn knowledge base",
		zap.String("miner", miner.Name()),
		zap.Float64("min_support", minSup),
		zap.Int("n_sessions", incidence.CountSessions()),
		zap.Int("n_bits", incidence.Len()),
		zap.Int("n_patterns", len(records)),
		zap.Duration("used_time", time.Since(start)))
	return nil
}

// FindMinMax scans the leading records for the ones sharing the most and the
// fewest (but at least one) bits with query. The first record wins ties.
func (kb *KnowledgeBase) FindMinMax(query *bitset.BitSet) (minRecord, maxRecord *Record, ok bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var minCount, maxCount uint
	for i, record := range kb.records {
		if i >= kb.maxPatterns {
			break
		}
		count := record.BitSet.IntersectionCardinality(query)
		if count == 0 {
			continue
		}
		if maxRecord == nil || count > maxCount {
			maxRecord, maxCount = record, count
		}
		if minRecord == nil || count < minCount {
			minRecord, minCount = record, count
		}
	}
	return minRecord, maxRecord, maxRecord != nil
}

// ToQueryBitSet sets the bit of every (item, value) pair matched by the
// rounded ratings of a user.
func (kb *KnowledgeBase) ToQueryBitSet(ratings dataset.RatingVector) *bitset.BitSet {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	query := bitset.New(uint(kb.dict.Len()))
	for itemId, value := range ratings {
		if bitId, ok := kb.dict.Id(itemId, dataset.Round(value)); ok {
			query.Set(uint(bitId))
		}
	}
	return query
}

// ItemValue returns the (item, value) pair of a bit id.
func (kb *KnowledgeBase) ItemValue(bitId int) (ItemValue, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.dict.Get(bitId)
}

// Records returns a copy of all records in discovery order.
func (kb *KnowledgeBase) Records() []Record {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	records := make([]Record, len(kb.records))
	for i, record := range kb.records {
		records[i] = *record
	}
	return records
}

func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.records)
}

// MaxPatterns returns the number of records consulted by queries.
func (kb *KnowledgeBase) MaxPatterns() int {
	return kb.maxPatterns
}

func (kb *KnowledgeBase) IsEmpty() bool {
	return kb.Len() == 0
}

// Close drops all records and the dictionary.
func (kb *KnowledgeBase) Close() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.records = nil
	kb.dict = NewDictionary()
}

// Save writes records to <name>_result and the dictionary to <name>_bitmap.
func (kb *KnowledgeBase) Save(store blob.Store, name string) error {
	start := time.Now()
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if err := writeBlob(store, name+resultSuffix, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintln(w, resultHeader); err != nil {
			return err
		}
		for _, record := range kb.records {
			if _, err := fmt.Fprintf(w, "%s %s %s %s %s\n",
				encoding.FormatInts(record.BitIds, idSep), fieldSep,
				encoding.FormatFloat64(record.Support), fieldSep,
				encoding.FormatBitSet(record.BitSet)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errors.Trace(err)
	}
	if err := writeBlob(store, name+bitmapSuffix, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintln(w, bitmapHeader); err != nil {
			return err
		}
		for _, bitId := range kb.dict.BitIds() {
			pair, _ := kb.dict.Get(bitId)
			if _, err := fmt.Fprintf(w, "%d %s %d=%d\n", bitId, fieldSep, pair.ItemId, pair.Value); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save knowledge base",
		zap.String("name", name),
		zap.Int("n_patterns", len(kb.records)),
		zap.Int("n_bits", kb.dict.Count()),
		zap.Duration("used_time", time.Since(start)))
	return nil
}

func writeBlob(store blob.Store, name string, write func(w *bufio.Writer) error) error {
	w, done, err := store.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	buf := bufio.NewWriter(w)
	if err = write(buf); err == nil {
		err = buf.Flush()
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if doneErr := <-done; err == nil {
		err = doneErr
	}
	return errors.Annotatef(err, "write %s", name)
}

// Load replaces the content of the knowledge base with blobs written by Save.
// Missing blobs load an empty knowledge base. Malformed lines are skipped. On
// error the previous content is kept.
func (kb *KnowledgeBase) Load(store blob.Store, name string) error {
	var (
		records []*Record
		dict    = NewDictionary()
	)
	resultExists, err := readBlob(store, name+resultSuffix, func(lineNumber int, line string) {
		record, err := parseRecord(line)
		if err != nil {
			log.Logger().Warn("skip malformed pattern",
				zap.String("name", name+resultSuffix), zap.Int("line", lineNumber), zap.Error(err))
			return
		}
		records = append(records, record)
	})
	if err != nil {
		return errors.Trace(err)
	}
	bitmapExists, err := readBlob(store, name+bitmapSuffix, func(lineNumber int, line string) {
		if err := parseBitmap(line, dict); err != nil {
			log.Logger().Warn("skip malformed bitmap entry",
				zap.String("name", name+bitmapSuffix), zap.Int("line", lineNumber), zap.Error(err))
		}
	})
	if err != nil {
		return errors.Trace(err)
	}
	if !resultExists || !bitmapExists {
		if resultExists || bitmapExists {
			log.Logger().Warn("incomplete knowledge base is treated as empty",
				zap.String("name", name), zap.Bool("result", resultExists), zap.Bool("bitmap", bitmapExists))
		}
		records, dict = nil, NewDictionary()
	}

	kb.mu.Lock()
	kb.records = records
	kb.dict = dict
	kb.mu.Unlock()
	PatternsTotal.Set(float64(len(records)))
	log.Logger().Info("load knowledge base",
		zap.String("name", name),
		zap.Int("n_patterns", len(records)),
		zap.Int("n_bits", dict.Count()))
	return nil
}

// readBlob calls handle on every non-blank, non-comment line. It returns false
// if the blob does not exist.
func readBlob(store blob.Store, name string, handle func(lineNumber int, line string)) (bool, error) {
	r, err := store.Open(name)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	defer func(r io.ReadCloser) {
		if err := r.Close(); err != nil {
			log.Logger().Warn("failed to close blob", zap.String("name", name), zap.Error(err))
		}
	}(r)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 64*1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		handle(lineNumber, line)
	}
	return true, errors.Annotatef(scanner.Err(), "read %s", name)
}

func parseRecord(line string) (*Record, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != 3 {
		return nil, errors.NotValidf("pattern %q", line)
	}
	bitIds, err := encoding.ParseInts(fields[0], idSep)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(bitIds) == 0 {
		return nil, errors.NotValidf("empty pattern")
	}
	s, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return nil, errors.Trace(err)
	}
	bits, err := encoding.ParseBitSet(fields[2])
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Record{Pattern: Pattern{BitIds: bitIds, Support: s}, BitSet: bits}, nil
}

func parseBitmap(line string, dict *Dictionary) error {
	fields := strings.Split(line, fieldSep)
	if len(fields) != 2 {
		return errors.NotValidf("bitmap entry %q", line)
	}
	bitId, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return errors.Trace(err)
	}
	pair := strings.Split(fields[1], "=")
	if len(pair) != 2 {
		return errors.NotValidf("item value %q", fields[1])
	}
	itemId, err := strconv.Atoi(strings.TrimSpace(pair[0]))
	if err != nil {
		return errors.Trace(err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(pair[1]), 64)
	if err != nil {
		return errors.Trace(err)
	}
	dict.Set(bitId, itemId, dataset.Round(value))
	return nil
}
