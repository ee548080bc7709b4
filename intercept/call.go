package intercept

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Direction tells how a parameter flows through the call.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirRefInOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirRefInOut:
		return "ref"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Param is one argument of a captured call. Out and RefInOut parameters
// carry a Capture closure that is read once after the call succeeds.
type Param struct {
	Name      string
	Type      string
	Direction Direction
	Value     any
	Capture   func() any
}

// In declares an input argument.
func In(name string, value any) Param {
	return Param{Name: name, Type: typeNameOf(value), Direction: DirIn, Value: value}
}

// Out declares an output argument. capture is read after a successful call.
func Out(name string, capture func() any) Param {
	p := Param{Name: name, Direction: DirOut, Capture: capture}
	if capture != nil {
		p.Type = typeNameOf(capture())
	}
	return p
}

// RefInOut declares an argument passed in and read back after the call.
func RefInOut(name string, value any, capture func() any) Param {
	return Param{Name: name, Type: typeNameOf(value), Direction: DirRefInOut, Value: value, Capture: capture}
}

func typeNameOf(v any) string {
	if v == nil {
		return "any"
	}
	return reflect.TypeOf(v).String()
}

// Request is the explicit description of one method invocation.
type Request struct {
	TypeName   string
	Method     string
	Params     []Param
	ReturnType reflect.Type
	Static     bool
	Invoke     func(ctx context.Context, instance any) (any, error)
}

func (r *Request) validate() error {
	if r == nil {
		return &ShapeError{Reason: "nil request"}
	}
	if strings.TrimSpace(r.Method) == "" {
		return &ShapeError{Reason: "method name is required"}
	}
	if r.Invoke == nil {
		return &ShapeError{Method: r.Method, Reason: "request has no invocation"}
	}
	if !r.Static && strings.TrimSpace(r.TypeName) == "" {
		return &ShapeError{Method: r.Method, Reason: "instance call without a declaring type"}
	}

	seen := make(map[string]struct{}, len(r.Params))
	for i, p := range r.Params {
		if p.Name == "" {
			return &ShapeError{Method: r.Method, Reason: fmt.Sprintf("parameter %d has no name", i)}
		}
		if _, dup := seen[p.Name]; dup {
			return &ShapeError{Method: r.Method, Reason: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		seen[p.Name] = struct{}{}

		switch p.Direction {
		case DirIn:
			if p.Capture != nil {
				return &ShapeError{Method: r.Method, Reason: fmt.Sprintf("input parameter %q declares a capture", p.Name)}
			}
		case DirOut, DirRefInOut:
		default:
			return &ShapeError{Method: r.Method, Reason: fmt.Sprintf("parameter %q has unknown direction %s", p.Name, p.Direction)}
		}
	}
	return nil
}

// CallMetadata is the immutable snapshot of a captured call. Only the
// return slot and the output parameter values are written, once, by the
// pipeline.
type CallMetadata struct {
	typeName   string
	method     string
	params     []Param
	returnType reflect.Type
	static     bool

	returnValue any
	returnSet   bool
}

func newCallMetadata(r *Request) *CallMetadata {
	params := make([]Param, len(r.Params))
	copy(params, r.Params)
	return &CallMetadata{
		typeName:   r.TypeName,
		method:     r.Method,
		params:     params,
		returnType: r.ReturnType,
		static:     r.Static,
	}
}

func (m *CallMetadata) TypeName() string         { return m.typeName }
func (m *CallMetadata) Method() string           { return m.method }
func (m *CallMetadata) ReturnType() reflect.Type { return m.returnType }
func (m *CallMetadata) IsStatic() bool           { return m.static }

// Params returns a copy of the ordered parameter list.
func (m *CallMetadata) Params() []Param {
	out := make([]Param, len(m.params))
	copy(out, m.params)
	return out
}

// Param looks up a parameter by name.
func (m *CallMetadata) Param(name string) (Param, bool) {
	for _, p := range m.params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Arguments returns the values that identify the call: In and RefInOut
// parameters in declaration order.
func (m *CallMetadata) Arguments() []any {
	args := make([]any, 0, len(m.params))
	for _, p := range m.params {
		if p.Direction == DirOut {
			continue
		}
		args = append(args, p.Value)
	}
	return args
}

// ReturnValue reports the value produced by the call, a cache hit or a
// short-circuit.
func (m *CallMetadata) ReturnValue() (any, bool) {
	return m.returnValue, m.returnSet
}

// String renders "Type.Method".
func (m *CallMetadata) String() string {
	if m.typeName == "" {
		return m.method
	}
	return m.typeName + "." + m.method
}

func (m *CallMetadata) setReturn(v any) bool {
	if m.returnSet {
		return false
	}
	m.returnValue = v
	m.returnSet = true
	return true
}

// clearReturn drops the value of a failed attempt before the next one.
func (m *CallMetadata) clearReturn() {
	m.returnValue = nil
	m.returnSet = false
}

func (m *CallMetadata) captureOutputs() {
	for i := range m.params {
		p := &m.params[i]
		if p.Direction != DirIn && p.Capture != nil {
			p.Value = p.Capture()
		}
	}
}

// Signature renders the call with formatted argument values, e.g.
// `bool time.IsLeapYear(int year = 2012)`.
func (m *CallMetadata) Signature(formatters *FormatterRegistry) string {
	var b strings.Builder
	if m.returnType != nil {
		b.WriteString(m.returnType.String())
	} else {
		b.WriteString("void")
	}
	b.WriteByte(' ')
	b.WriteString(m.String())
	b.WriteByte('(')
	for i, p := range m.params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.Direction != DirIn {
			b.WriteString(p.Direction.String())
			b.WriteByte(' ')
		}
		b.WriteString(p.Type)
		b.WriteByte(' ')
		b.WriteString(p.Name)
		b.WriteString(" = ")
		b.WriteString(formatters.Format(p.Value))
	}
	b.WriteByte(')')
	return b.String()
}

// FormatReturn renders the return slot through the formatter registry.
func (m *CallMetadata) FormatReturn(formatters *FormatterRegistry) string {
	if !m.returnSet {
		return "<unset>"
	}
	return formatters.Format(m.returnValue)
}
