// Encodes records as a single line of escaped fields.

package database

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	fieldDelimiter = "|"
	nullToken      = "%NULL%"
)

// Serialize encodes fields into one line.
//
// Supported field types are the ones Decoder reads back: strings, *string,
// integers, bools, floats, time.Time and named types over those kinds. A nil
// value or a nil *string is written as a null token so it reads back as nil.
// Times are stored in UTC with nanosecond precision. Any other type panics, as
// its text form couldn't be decoded.
func Serialize(fields ...any) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString(fieldDelimiter)
		}
		b.WriteString(encodeField(f))
	}
	return b.String()
}

func encodeField(f any) string {
	switch v := f.(type) {
	case nil:
		return nullToken
	case *string:
		if v == nil {
			return nullToken
		}
		return url.QueryEscape(*v)
	case string:
		return url.QueryEscape(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return url.QueryEscape(v.UTC().Format(time.RFC3339Nano))
	}
	// Named types, e.g. type Role string, are stored by their underlying kind.
	rv := reflect.ValueOf(f)
	switch rv.Kind() {
	case reflect.String:
		return url.QueryEscape(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits())
	default:
		panic(fmt.Sprintf("database: cannot serialize field of type %T", f))
	}
}

// Deserialize splits a line produced by Serialize back into its fields.
// Null fields are returned as nil.
func Deserialize(text string) ([]*string, error) {
	parts := strings.Split(text, fieldDelimiter)
	out := make([]*string, len(parts))
	for i, p := range parts {
		if p == nullToken {
			continue
		}
		s, err := url.QueryUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = &s
	}
	return out, nil
}

// Decoder reads typed fields from a serialized line in order.
//
// The first failure sticks: later calls return zero values and Err reports the
// original problem.
//
//	d := database.NewDecoder(text, 3)
//	f := &Foo{Index: d.Int64(), A: d.Int(), B: d.NullString()}
//	if err := d.Err(); err != nil {
//	    return nil, err
//	}
type Decoder struct {
	fields []*string
	pos    int
	err    error
}

// NewDecoder decodes text and checks that it holds exactly want fields.
func NewDecoder(text string, want int) *Decoder {
	fields, err := Deserialize(text)
	d := &Decoder{fields: fields, err: err}
	if err == nil && len(fields) != want {
		d.err = fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), want)
	}
	return d
}

// Err returns the first error encountered.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) next() (*string, bool) {
	if d.err != nil {
		return nil, false
	}
	if d.pos >= len(d.fields) {
		d.err = fmt.Errorf("%w: no field %d", ErrFieldCount, d.pos)
		return nil, false
	}
	f := d.fields[d.pos]
	d.pos++
	return f, true
}

func (d *Decoder) text(kind string) (string, bool) {
	f, ok := d.next()
	if !ok {
		return "", false
	}
	if f == nil {
		d.err = fmt.Errorf("field %d: null is not a valid %s", d.pos-1, kind)
		return "", false
	}
	return *f, true
}

func (d *Decoder) fail(err error) {
	d.err = fmt.Errorf("field %d: %w", d.pos-1, err)
}

// Int64 reads a decimal integer.
func (d *Decoder) Int64() int64 {
	s, ok := d.text("int64")
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d.fail(err)
		return 0
	}
	return v
}

// Int reads a decimal integer that fits in an int.
func (d *Decoder) Int() int {
	s, ok := d.text("int")
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		d.fail(err)
		return 0
	}
	return v
}

// Bool reads a boolean.
func (d *Decoder) Bool() bool {
	s, ok := d.text("bool")
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		d.fail(err)
		return false
	}
	return v
}

// Float64 reads a floating point number.
func (d *Decoder) Float64() float64 {
	s, ok := d.text("float64")
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		d.fail(err)
		return 0
	}
	return v
}

// String reads a non-null string.
func (d *Decoder) String() string {
	s, _ := d.text("string")
	return s
}

// NullString reads a string that may be null.
func (d *Decoder) NullString() *string {
	f, ok := d.next()
	if !ok {
		return nil
	}
	return f
}

// Time reads a timestamp written by Serialize.
func (d *Decoder) Time() time.Time {
	s, ok := d.text("time")
	if !ok {
		return time.Time{}
	}
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(err)
		return time.Time{}
	}
	return v
}
