// Copyright 2022 The jobflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package set

import "sort"

// Ordered is a type constraint that matches any ordered type.
// An ordered type is one that supports the <, <=, >, and >= operators.
type Ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 |
		~string
}

// Set is an ordered collection of unique elements.
type Set[T Ordered] struct {
	elems []T
	maps  map[T]struct{}
}

func NewSet[T Ordered](vals ...T) *Set[T] {
	s := &Set[T]{
		elems: []T{},
		maps:  map[T]struct{}{},
	}
	s.Append(vals...)
	return s
}

func (s *Set[T]) Append(vals ...T) {
	for _, val := range vals {
		if _, ok := s.maps[val]; ok {
			continue
		}
		s.elems = append(s.elems, val)
		s.maps[val] = struct{}{}
	}
}

func (s *Set[T]) Has(val T) bool {
	_, ok := s.maps[val]
	return ok
}

func (s *Set[T]) Slice() []T {
	sort.Slice(s.elems, func(i, j int) bool {
		return s.elems[i] < s.elems[j]
	})
	return s.elems
}

func (s *Set[T]) Len() int {
	return len(s.elems)
}

// Diff is the change needed to turn a current set of ids into a desired one.
type Diff[T Ordered] struct {
	ToAdd    []T `json:"toAdd"`
	ToRemove []T `json:"toRemove"`
}

func (d Diff[T]) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Differ computes desired \ current and current \ desired.
// Duplicates in either input are ignored and both outputs are sorted ascending.
func Differ[T Ordered](desired, current []T) Diff[T] {
	want, have := NewSet(desired...), NewSet(current...)
	diff := Diff[T]{ToAdd: []T{}, ToRemove: []T{}}
	for _, v := range want.Slice() {
		if !have.Has(v) {
			diff.ToAdd = append(diff.ToAdd, v)
		}
	}
	for _, v := range have.Slice() {
		if !want.Has(v) {
			diff.ToRemove = append(diff.ToRemove, v)
		}
	}
	return diff
}
