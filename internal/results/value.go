// Package results turns raw task return values into persistence plans and
// applies those plans to a watcher repository.
//
// The pipeline has three steps:
//   - Sniff inspects a raw value (and the filesystem, through a Prober) and
//     produces a discriminated Value.
//   - Classify maps a Value plus task hints to a Plan. It performs no I/O.
//   - Writer.Write stages and commits a Plan under repository_root/<uri>/.
package results

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
)

// Kind discriminates the shapes a task may return.
type Kind int

const (
	KindNone Kind = iota
	// KindFile is a path to an existing regular file.
	KindFile
	// KindJSONFile is a path to an existing file with a .json extension.
	KindJSONFile
	// KindJSON is an in-memory structure (map, struct, number, bool).
	KindJSON
	// KindText is a string that does not name an existing file.
	KindText
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFile:
		return "file"
	case KindJSONFile:
		return "json-file"
	case KindJSON:
		return "json"
	case KindText:
		return "text"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a task return value tagged with its Kind. Only the field matching
// Kind is meaningful.
type Value struct {
	Kind  Kind
	Path  string
	Text  string
	Data  any
	Items []Value
}

// None is the empty Value.
func None() Value { return Value{Kind: KindNone} }

// Text wraps a string that is known not to be a path.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// JSON wraps a structure.
func JSON(data any) Value { return Value{Kind: KindJSON, Data: data} }

// File wraps a path to an existing file.
func File(path string) Value {
	if isJSONName(path) {
		return Value{Kind: KindJSONFile, Path: path}
	}
	return Value{Kind: KindFile, Path: path}
}

// List wraps an ordered sequence.
func List(items ...Value) Value { return Value{Kind: KindList, Items: items} }

// IsFile reports whether the value names an existing file.
func (v Value) IsFile() bool { return v.Kind == KindFile || v.Kind == KindJSONFile }

// Plain converts the value back to a JSON-encodable form. Paths become strings.
func (v Value) Plain() any {
	switch v.Kind {
	case KindFile, KindJSONFile:
		return v.Path
	case KindText:
		return v.Text
	case KindJSON:
		return v.Data
	case KindList:
		out := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			out = append(out, it.Plain())
		}
		return out
	default:
		return nil
	}
}

// Prober answers filesystem questions for Sniff.
type Prober interface {
	IsFile(path string) bool
}

// OSProber checks the local filesystem.
type OSProber struct{}

func (OSProber) IsFile(path string) bool {
	if path == "" || strings.ContainsRune(path, '\n') {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Sniff classifies a raw task return value into a Value.
func Sniff(raw any, probe Prober) Value {
	if probe == nil {
		probe = OSProber{}
	}
	switch v := raw.(type) {
	case nil:
		return None()
	case Value:
		return v
	case string:
		if probe.IsFile(v) {
			return File(v)
		}
		return Text(v)
	case []byte:
		return Text(string(v))
	case []string:
		items := make([]Value, 0, len(v))
		for _, s := range v {
			items = append(items, Sniff(s, probe))
		}
		return List(items...)
	case []any:
		items := make([]Value, 0, len(v))
		for _, e := range v {
			items = append(items, Sniff(e, probe))
		}
		return List(items...)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return None()
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return List()
		}
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, Sniff(rv.Index(i).Interface(), probe))
		}
		return List(items...)
	case reflect.Map:
		if rv.IsNil() {
			return None()
		}
	}
	return JSON(raw)
}

func isJSONName(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
