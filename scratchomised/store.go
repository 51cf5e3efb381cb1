package scratchomised

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ClassesKey is the reserved record key listing the peer-side classes of an object.
const ClassesKey = "__scratchomisedClasses"

// BaselineProperties are always offered as property names, objects or not.
var BaselineProperties = []string{
	"color", "shininess", "power", "lightColor",
	"x", "y", "z", "angle", "width", "depth", "height",
	"visible", "locked", "name", "id", "model", "texture",
}

// Object is one remote scene object. Properties holds every record key
// except ClassesKey, id and name included.
type Object struct {
	ID         string
	Name       string
	Classes    []string
	Properties map[string]any
}

// Property returns a property value as decoded from the peer.
func (o Object) Property(name string) (any, bool) {
	v, ok := o.Properties[name]
	return v, ok
}

// HasClass reports whether the peer tagged the object with class.
func (o Object) HasClass(class string) bool {
	return slices.Contains(o.Classes, class)
}

// Clone returns a deep copy.
func (o Object) Clone() Object {
	c := Object{ID: o.ID, Name: o.Name, Classes: slices.Clone(o.Classes)}
	if o.Properties != nil {
		c.Properties = cloneMap(o.Properties)
	}
	return c
}

// ObjectStore mirrors the peer's objects. It is only ever replaced whole.
type ObjectStore struct {
	mu       sync.RWMutex
	objects  map[string]Object
	order    []string
	revision uint64
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: map[string]Object{}}
}

// Replace swaps in a new mapping built from records and bumps the revision,
// even when no record is usable. Records without an id are skipped; a later
// duplicate id overwrites the earlier record but keeps its position.
// It returns the number of records stored.
func (s *ObjectStore) Replace(records []map[string]any) int {
	objects := make(map[string]Object, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		id, ok := recordID(rec)
		if !ok {
			continue
		}
		if _, seen := objects[id]; !seen {
			order = append(order, id)
		}
		objects[id] = newObject(id, rec)
	}

	s.mu.Lock()
	s.objects = objects
	s.order = order
	s.revision++
	s.mu.Unlock()
	return len(objects)
}

// ReplaceRaw decodes each record independently, so one malformed record
// only drops that record.
func (s *ObjectStore) ReplaceRaw(raw []json.RawMessage) int {
	records := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var rec map[string]any
		if err := json.Unmarshal(r, &rec); err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return s.Replace(records)
}

// Clear drops every object. It counts as a change, so the revision moves.
func (s *ObjectStore) Clear() {
	s.mu.Lock()
	s.objects = map[string]Object{}
	s.order = nil
	s.revision++
	s.mu.Unlock()
}

func (s *ObjectStore) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *ObjectStore) Get(id string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return o.Clone(), true
}

// All returns every object in insertion order.
func (s *ObjectStore) All() []Object {
	return s.filter(func(Object) bool { return true })
}

// ByClass returns the objects tagged with class.
func (s *ObjectStore) ByClass(class string) []Object {
	return s.filter(func(o Object) bool { return o.HasClass(class) })
}

// FilterByName returns the objects whose name contains substr, ignoring case.
func (s *ObjectStore) FilterByName(substr string) []Object {
	needle := strings.ToLower(substr)
	return s.filter(func(o Object) bool {
		return strings.Contains(strings.ToLower(o.Name), needle)
	})
}

// PropertyNames is the sorted union of BaselineProperties and every key
// seen on a stored object.
func (s *ObjectStore) PropertyNames() []string {
	set := make(map[string]struct{}, len(BaselineProperties))
	for _, p := range BaselineProperties {
		set[p] = struct{}{}
	}
	s.mu.RLock()
	for _, o := range s.objects {
		for k := range o.Properties {
			set[k] = struct{}{}
		}
	}
	s.mu.RUnlock()

	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func (s *ObjectStore) filter(keep func(Object) bool) []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0, len(s.order))
	for _, id := range s.order {
		o := s.objects[id]
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func newObject(id string, rec map[string]any) Object {
	o := Object{ID: id, Properties: make(map[string]any, len(rec))}
	for k, v := range rec {
		if k == ClassesKey {
			o.Classes = stringList(v)
			continue
		}
		o.Properties[k] = cloneValue(v)
	}
	if name, ok := rec["name"].(string); ok {
		o.Name = name
	}
	return o
}

// recordID accepts non-empty string ids and finite numeric ids.
func recordID(rec map[string]any) (string, bool) {
	switch v := rec["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), v != ""
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return slices.Clone(l)
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{l}
	default:
		return nil
	}
}

func cloneMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []string:
		return slices.Clone(t)
	case json.RawMessage:
		return slices.Clone(t)
	default:
		return v
	}
}
