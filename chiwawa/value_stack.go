// Copyright 2025 Google LLC
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

package chiwawa

// valueStack is the operand stack the execution core pushes and pops while
// running a Program. It holds the same flat {low, high} representation as
// globals and memory, so control transfers never need to box/unbox through
// the any-typed host view.
type valueStack struct {
	data []value
}

func newValueStack() *valueStack {
	return &valueStack{data: make([]value, 0, 512)}
}

func (s *valueStack) pushInt32(v int32)     { s.data = append(s.data, i32(v)) }
func (s *valueStack) pushInt64(v int64)     { s.data = append(s.data, i64(v)) }
func (s *valueStack) pushFloat32(v float32) { s.data = append(s.data, f32(v)) }
func (s *valueStack) pushFloat64(v float64) { s.data = append(s.data, f64(v)) }
func (s *valueStack) pushV128(v V128Value)  { s.data = append(s.data, v128(v)) }
func (s *valueStack) pushNull()             { s.pushInt32(NullReference) }
func (s *valueStack) pushRaw(v value)       { s.data = append(s.data, v) }

func (s *valueStack) pushValueType(v any, t ValueType) {
	switch t {
	case I32, FuncRefType, ExternRefType:
		s.pushInt32(v.(int32))
	case I64:
		s.pushInt64(v.(int64))
	case F32:
		s.pushFloat32(v.(float32))
	case F64:
		s.pushFloat64(v.(float64))
	case V128:
		s.pushV128(v.(V128Value))
	default:
		panic("unreachable")
	}
}

func (s *valueStack) pushAll(values []any) {
	for _, v := range values {
		switch val := v.(type) {
		case int32:
			s.pushInt32(val)
		case int64:
			s.pushInt64(val)
		case float32:
			s.pushFloat32(val)
		case float64:
			s.pushFloat64(val)
		case V128Value:
			s.pushV128(val)
		default:
			panic("unreachable")
		}
	}
}

func (s *valueStack) drop() {
	s.data = s.data[:len(s.data)-1]
}

func (s *valueStack) popInt32() int32     { return s.pop().int32() }
func (s *valueStack) popInt64() int64     { return s.pop().int64() }
func (s *valueStack) popFloat32() float32 { return s.pop().float32() }
func (s *valueStack) popFloat64() float64 { return s.pop().float64() }
func (s *valueStack) popV128() V128Value  { return s.pop().v128() }

func (s *valueStack) pop3Int32() (int32, int32, int32) {
	data := s.data
	n := len(data)
	c := data[n-3].int32()
	b := data[n-2].int32()
	a := data[n-1].int32()
	s.data = data[:n-3]
	return a, b, c
}

// popRawN pops the top n values, returning them oldest-first (the order
// they were originally pushed in), without boxing through anyValueType.
// Used to lift call arguments off the stack into a callee's locals.
func (s *valueStack) popRawN(n uint) []value {
	newLen := uint(len(s.data)) - n
	values := append([]value(nil), s.data[newLen:]...)
	s.data = s.data[:newLen]
	return values
}

func (s *valueStack) pop() value {
	// Due to validation, we know the stack is never empty if we call pop.
	index := len(s.data) - 1
	element := s.data[index]
	s.data = s.data[:index]
	return element
}

func (s *valueStack) popValueType(t ValueType) any {
	return s.pop().anyValueType(t)
}

func (s *valueStack) popValueTypes(types []ValueType) []any {
	n := len(types)
	newLen := len(s.data) - n
	values := s.data[newLen:]
	s.data = s.data[:newLen]

	results := make([]any, n)
	for i, t := range types {
		results[i] = values[i].anyValueType(t)
	}
	return results
}

// unwind discards everything between targetHeight and the current top of
// stack except the preserveCount values at the very top, which are moved
// down to sit right above targetHeight. Used when a branch or return leaves
// nested blocks behind: the branch's result values survive, the scratch
// values pushed inside the exited blocks do not.
func (s *valueStack) unwind(targetHeight, preserveCount uint) {
	valuesToPreserve := s.data[s.size()-preserveCount:]
	preserved := append([]value(nil), valuesToPreserve...)
	s.data = append(s.data[:targetHeight], preserved...)
}

func (s *valueStack) size() uint {
	return uint(len(s.data))
}
