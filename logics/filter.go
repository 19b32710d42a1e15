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

package logics

import (
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/roller/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ItemFilter decides whether an item may be estimated or recommended.
type ItemFilter interface {
	Accept(itemId int) bool
}

// ItemFilterFunc adapts a function to ItemFilter.
type ItemFilterFunc func(itemId int) bool

func (f ItemFilterFunc) Accept(itemId int) bool {
	return f(itemId)
}

// AcceptAll accepts every item.
var AcceptAll ItemFilter = ItemFilterFunc(func(int) bool { return true })

// ExprFilter evaluates a boolean expression over item_id.
type ExprFilter struct {
	program *vm.Program
}

// NewItemFilter compiles an expression into an item filter. An empty
// expression accepts every item.
func NewItemFilter(expression string) (ItemFilter, error) {
	if expression == "" {
		return AcceptAll, nil
	}
	program, err := expr.Compile(expression, expr.Env(map[string]any{
		"item_id": 0,
	}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if program.Node().Type().Kind() != reflect.Bool {
		return nil, errors.New("item filter must return bool")
	}
	return &ExprFilter{program: program}, nil
}

func (f *ExprFilter) Accept(itemId int) bool {
	result, err := expr.Run(f.program, map[string]any{
		"item_id": itemId,
	})
	if err != nil {
		log.Logger().Error("evaluate item filter", zap.Int("item_id", itemId), zap.Error(err))
		return false
	}
	return result.(bool)
}
