// Package txproxy wraps service objects so that calls to marked methods run
// inside a transaction while every other method passes straight through.
//
// Classification is static: a Builder registers markers for concrete types at
// composition time and produces an immutable Classifier. An Interceptor owns one
// target and demarcates each transactional invocation through a tx.Manager.
package txproxy

import (
	"context"
	"reflect"
	"strings"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Method identifies a method by name and parameter types (receiver excluded).
type Method struct {
	Name   string
	Params []reflect.Type
}

// NewMethod builds a method identity.
func NewMethod(name string, params ...reflect.Type) Method {
	return Method{Name: name, Params: params}
}

// MethodOf derives the identity of a method as declared on a concrete type.
// The boolean is false when t has no such method.
func MethodOf(t reflect.Type, name string) (Method, bool) {
	m, ok := t.MethodByName(name)
	if !ok {
		return Method{}, false
	}
	return Method{Name: name, Params: declaredParams(t, m)}, true
}

// String renders the method as Name(T1, T2).
func (m Method) String() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p == nil {
			b.WriteString("<nil>")
			continue
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

// takesContext reports whether the first parameter is a context.Context.
func (m Method) takesContext() bool {
	return len(m.Params) > 0 && m.Params[0] == contextType
}

// declaredParams returns the parameter types of m excluding the receiver.
// Methods obtained from an interface type carry no receiver in their signature.
func declaredParams(t reflect.Type, m reflect.Method) []reflect.Type {
	ft := m.Type
	skip := 1
	if t.Kind() == reflect.Interface {
		skip = 0
	}
	params := make([]reflect.Type, 0, ft.NumIn()-skip)
	for i := skip; i < ft.NumIn(); i++ {
		params = append(params, ft.In(i))
	}
	return params
}

// sameParams compares two parameter lists by type identity.
func sameParams(a, b []reflect.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
