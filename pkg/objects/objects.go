// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package objects contains the versioned data objects exchanged between the
// volume service components and persisted by the store.
//
// Every object type has a version history. A field added in a later version is
// removed when the object is serialized for a consumer pinned to an older
// version (see MakeCompatible). Objects track which fields were modified since
// they were loaded so that only those fields are written back.
package objects

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver"
)

// Namespace of all objects in primitive form
const Namespace = "volumed"

// Primitive form keys
const (
	PrimitiveName      = "versioned_object.name"
	PrimitiveNamespace = "versioned_object.namespace"
	PrimitiveVersion   = "versioned_object.version"
	PrimitiveData      = "versioned_object.data"
	PrimitiveChanges   = "versioned_object.changes"
)

// Errors
var (
	ErrUnknownObject       = errors.New("unknown object type")
	ErrUnknownField        = errors.New("unknown field")
	ErrIncompatibleVersion = errors.New("incompatible object version")
)

// Object is implemented by all versioned objects
type Object interface {
	ObjName() string
	Changes() []string
	ResetChanges()
	markChanged(fields ...string)
}

// Base provides change tracking. It must be embedded in every object.
type Base struct {
	mux     sync.Mutex
	changes map[string]struct{}
}

func (b *Base) markChanged(fields ...string) {
	b.mux.Lock()
	defer b.mux.Unlock()
	if b.changes == nil {
		b.changes = make(map[string]struct{}, len(fields))
	}
	for _, f := range fields {
		b.changes[f] = struct{}{}
	}
}

// Changes returns the names of the modified fields in sorted order
func (b *Base) Changes() []string {
	b.mux.Lock()
	defer b.mux.Unlock()
	res := make([]string, 0, len(b.changes))
	for f := range b.changes {
		res = append(res, f)
	}
	sort.Strings(res)
	return res
}

// ResetChanges clears the change set, typically after the object is saved
func (b *Base) ResetChanges() {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.changes = nil
}

// TypeInfo describes a registered object type
type TypeInfo struct {
	Name    string
	Version string
	// Added maps a field to the version that introduced it; fields not listed are in 1.0
	Added map[string]string
	New   func() Object
}

var registry = map[string]*TypeInfo{}
var registryMux sync.RWMutex

// Register adds an object type. It is called from init functions.
func Register(ti *TypeInfo) {
	if _, err := semver.NewVersion(ti.Version); err != nil {
		panic(fmt.Sprintf("object %s: invalid version %s", ti.Name, ti.Version))
	}
	registryMux.Lock()
	defer registryMux.Unlock()
	registry[ti.Name] = ti
}

// Lookup returns the type information of a registered object
func Lookup(name string) (*TypeInfo, error) {
	registryMux.RLock()
	defer registryMux.RUnlock()
	if ti, ok := registry[name]; ok {
		return ti, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownObject, name)
}

// RegisteredNames returns the sorted names of the registered objects
func RegisteredNames() []string {
	registryMux.RLock()
	defer registryMux.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Version returns the current version of an object
func Version(o Object) string {
	ti, err := Lookup(o.ObjName())
	if err != nil {
		return ""
	}
	return ti.Version
}

// MakeCompatible removes the fields of data that were introduced after target
func (ti *TypeInfo) MakeCompatible(data map[string]interface{}, target string) error {
	tv, err := semver.NewVersion(target)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %s", ErrIncompatibleVersion, ti.Name, target, err.Error())
	}
	cv, _ := semver.NewVersion(ti.Version)
	if tv.GreaterThan(cv) {
		return fmt.Errorf("%w: %s %s is newer than %s", ErrIncompatibleVersion, ti.Name, target, ti.Version)
	}
	for field, added := range ti.Added {
		av, err := semver.NewVersion(added)
		if err != nil {
			return fmt.Errorf("object %s field %s: invalid version %s", ti.Name, field, added)
		}
		if av.GreaterThan(tv) {
			delete(data, field)
		}
	}
	return nil
}

// VersionCaps pins object names to the maximum version a consumer understands
type VersionCaps map[string]string

// ParseVersionCaps parses "Volume=1.2,Snapshot=1.0"
func ParseVersionCaps(s string) (VersionCaps, error) {
	caps := VersionCaps{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid version cap %q", p)
		}
		if _, err := semver.NewVersion(kv[1]); err != nil {
			return nil, fmt.Errorf("invalid version cap %q: %s", p, err.Error())
		}
		caps[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return caps, nil
}

func (vc VersionCaps) String() string {
	parts := make([]string, 0, len(vc))
	for k, v := range vc {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// ToPrimitive converts an object to its versioned primitive form, backporting it to the cap
// of its type if one is given.
func ToPrimitive(o Object, caps VersionCaps) (map[string]interface{}, error) {
	ti, err := Lookup(o.ObjName())
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	if err = json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	version := ti.Version
	if target, ok := caps[ti.Name]; ok {
		if err = ti.MakeCompatible(data, target); err != nil {
			return nil, err
		}
		version = target
	}
	changes := []string{}
	for _, f := range o.Changes() {
		if _, present := data[f]; present {
			changes = append(changes, f)
		}
	}
	prim := map[string]interface{}{
		PrimitiveName:      ti.Name,
		PrimitiveNamespace: Namespace,
		PrimitiveVersion:   version,
		PrimitiveData:      data,
	}
	if len(changes) > 0 {
		prim[PrimitiveChanges] = changes
	}
	return prim, nil
}

// FromPrimitive reconstructs an object from its primitive form
func FromPrimitive(prim map[string]interface{}) (Object, error) {
	if ns, _ := prim[PrimitiveNamespace].(string); ns != Namespace {
		return nil, fmt.Errorf("%w: namespace %q", ErrUnknownObject, ns)
	}
	name, _ := prim[PrimitiveName].(string)
	ti, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	version, _ := prim[PrimitiveVersion].(string)
	pv, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrIncompatibleVersion, name, version)
	}
	cv, _ := semver.NewVersion(ti.Version)
	if pv.Major() != cv.Major() || pv.GreaterThan(cv) {
		return nil, fmt.Errorf("%w: %s %s is not compatible with %s", ErrIncompatibleVersion, name, version, ti.Version)
	}
	b, err := json.Marshal(prim[PrimitiveData])
	if err != nil {
		return nil, err
	}
	o := ti.New()
	if err = json.Unmarshal(b, o); err != nil {
		return nil, err
	}
	if changes, ok := prim[PrimitiveChanges].([]interface{}); ok {
		for _, c := range changes {
			if s, ok := c.(string); ok {
				o.markChanged(s)
			}
		}
	} else if changes, ok := prim[PrimitiveChanges].([]string); ok {
		o.markChanged(changes...)
	}
	return o, nil
}

// fieldIndex caches the struct field index of each json field name per type
var fieldIndex sync.Map // reflect.Type -> map[string]int

func fieldsOf(t reflect.Type) map[string]int {
	if m, ok := fieldIndex.Load(t); ok {
		return m.(map[string]int)
	}
	m := map[string]int{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := strings.Split(sf.Tag.Get("json"), ",")[0]
		if tag == "" || tag == "-" || sf.PkgPath != "" {
			continue
		}
		m[tag] = i
	}
	fieldIndex.Store(t, m)
	return m
}

func structValue(o Object) reflect.Value {
	v := reflect.ValueOf(o)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

// Set assigns a field by name and records the change
func Set(o Object, field string, value interface{}) error {
	sv := structValue(o)
	idx, ok := fieldsOf(sv.Type())[field]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, o.ObjName(), field)
	}
	fv := sv.Field(idx)
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
	} else {
		vv := reflect.ValueOf(value)
		switch {
		case vv.Type().AssignableTo(fv.Type()):
			fv.Set(vv)
		case vv.Type().ConvertibleTo(fv.Type()) && vv.Kind() != reflect.String && fv.Kind() != reflect.String:
			fv.Set(vv.Convert(fv.Type()))
		case vv.Kind() == reflect.String && fv.Kind() == reflect.String:
			fv.SetString(vv.String())
		default:
			return fmt.Errorf("%s.%s: cannot assign %T", o.ObjName(), field, value)
		}
	}
	o.markChanged(field)
	return nil
}

// Get returns a field by name
func Get(o Object, field string) (interface{}, error) {
	sv := structValue(o)
	idx, ok := fieldsOf(sv.Type())[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, o.ObjName(), field)
	}
	return sv.Field(idx).Interface(), nil
}

// FieldNames returns the sorted json field names of an object
func FieldNames(o Object) []string {
	m := fieldsOf(structValue(o).Type())
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Copy copies every field of src into dst, which must be of the same type.
// Maps and time pointers are duplicated and the change set of dst is cleared.
func Copy(dst, src Object) error {
	if dst.ObjName() != src.ObjName() {
		return fmt.Errorf("cannot copy %s into %s", src.ObjName(), dst.ObjName())
	}
	for _, f := range FieldNames(src) {
		v, _ := Get(src, f)
		if err := Set(dst, f, copyValue(v)); err != nil {
			return err
		}
	}
	dst.ResetChanges()
	return nil
}

func copyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]string:
		if x == nil {
			return x
		}
		m := make(map[string]string, len(x))
		for k, val := range x {
			m[k] = val
		}
		return m
	case *time.Time:
		if x == nil {
			return x
		}
		t := *x
		return &t
	}
	return v
}
