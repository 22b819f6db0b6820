// Package payload gives optional-path access to decoded JSON payloads.
//
// A path is a list of object keys. Keys are matched literally, so a key that
// itself contains dots (such as "head.description") is a single segment. A
// lookup is absent, never an error, when any segment is missing, null, or
// applied to something that is not an object.
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMissing marks a required value that is absent from the payload.
var ErrMissing = errors.New("payload: missing value")

// MissingError reports the path of an absent required value.
type MissingError struct {
	Path []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("payload: missing %s", strings.Join(e.Path, " > "))
}

// Unwrap lets errors.Is match ErrMissing.
func (e *MissingError) Unwrap() error {
	return ErrMissing
}

// Doc is an immutable view over a JSON value.
type Doc struct {
	r    gjson.Result
	path []string
}

// Parse validates and wraps a JSON document.
func Parse(data []byte) (Doc, error) {
	if !gjson.ValidBytes(data) {
		return Doc{}, fmt.Errorf("payload: invalid json (%d bytes)", len(data))
	}
	return Doc{r: gjson.ParseBytes(data)}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(data string) Doc {
	d, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return d
}

// Empty is an empty JSON object.
func Empty() Doc {
	return MustParse("{}")
}

// Exists reports whether the view holds a non-null value.
func (d Doc) Exists() bool {
	return d.r.Exists() && d.r.Type != gjson.Null
}

// Raw returns the JSON text of the value.
func (d Doc) Raw() string {
	return d.r.Raw
}

// Path returns the segments this view was reached by.
func (d Doc) Path() []string {
	return append([]string(nil), d.path...)
}

// Lookup walks path from d.
func (d Doc) Lookup(path ...string) (Doc, bool) {
	cur := d.r
	for _, segment := range path {
		if !cur.IsObject() {
			return Doc{}, false
		}
		cur = child(cur, segment)
		if !cur.Exists() || cur.Type == gjson.Null {
			return Doc{}, false
		}
	}
	return Doc{r: cur, path: d.join(path...)}, true
}

// Require is Lookup that fails with a *MissingError.
func (d Doc) Require(path ...string) (Doc, error) {
	v, ok := d.Lookup(path...)
	if !ok {
		return Doc{}, &MissingError{Path: d.join(path...)}
	}
	return v, nil
}

// String returns a string or number value at path as text.
func (d Doc) String(path ...string) (string, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return "", false
	}
	switch v.r.Type {
	case gjson.String:
		return v.r.Str, true
	case gjson.Number:
		return v.r.Raw, true
	default:
		return "", false
	}
}

// RequireString is String that fails with a *MissingError.
func (d Doc) RequireString(path ...string) (string, error) {
	s, ok := d.String(path...)
	if !ok {
		return "", d.missingOrShape(path, "string")
	}
	return s, nil
}

// Int returns a number, or a string holding a number, at path.
func (d Doc) Int(path ...string) (int, bool) {
	f, ok := d.Float(path...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// RequireInt is Int that fails when the value is absent or not numeric.
func (d Doc) RequireInt(path ...string) (int, error) {
	n, ok := d.Int(path...)
	if !ok {
		return 0, d.missingOrShape(path, "integer")
	}
	return n, nil
}

// Float returns a number, or a string holding a number, at path.
func (d Doc) Float(path ...string) (float64, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch v.r.Type {
	case gjson.Number:
		return v.r.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.r.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// RequireFloat is Float that fails when the value is absent or not numeric.
func (d Doc) RequireFloat(path ...string) (float64, error) {
	f, ok := d.Float(path...)
	if !ok {
		return 0, d.missingOrShape(path, "number")
	}
	return f, nil
}

// Bool reads a JSON boolean, or a number where non-zero is true.
func (d Doc) Bool(path ...string) (bool, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return false, false
	}
	switch v.r.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.Number:
		return v.r.Num != 0, true
	default:
		return false, false
	}
}

// Array returns the elements of an array at path.
func (d Doc) Array(path ...string) ([]Doc, bool) {
	v, ok := d.Lookup(path...)
	if !ok || !v.r.IsArray() {
		return nil, false
	}
	items := v.r.Array()
	out := make([]Doc, len(items))
	for i, item := range items {
		out[i] = Doc{r: item, path: v.join(strconv.Itoa(i))}
	}
	return out, true
}

// RequireArray is Array that fails when the value is absent or not an array.
func (d Doc) RequireArray(path ...string) ([]Doc, error) {
	items, ok := d.Array(path...)
	if !ok {
		return nil, d.missingOrShape(path, "array")
	}
	return items, nil
}

func (d Doc) missingOrShape(path []string, want string) error {
	if _, ok := d.Lookup(path...); !ok {
		return &MissingError{Path: d.join(path...)}
	}
	return fmt.Errorf("payload: %s is not a %s", strings.Join(d.join(path...), " > "), want)
}

func (d Doc) join(path ...string) []string {
	out := make([]string, 0, len(d.path)+len(path))
	out = append(out, d.path...)
	return append(out, path...)
}

func child(obj gjson.Result, key string) gjson.Result {
	var found gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			found = v
			return false
		}
		return true
	})
	return found
}
