// MIT License
//
// # Copyright (c) 2023 Jimmy Fjällid
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package encoder is a small reflection-based binary codec for the SMB1/SMB2
// message structures. Every wire struct either implements BinaryMarshaler /
// BinaryUnmarshaler itself, or relies on struct tags interpreted here:
//
//	`smb:"fixed:N"`   - a []byte field that is always exactly N bytes
//	`smb:"len:Field"` - parsed but not applied: the length is neither
//	                    written into nor read from the named sibling field
//	`smb:"asciiz"`    - a string encoded UTF-16LE and null-terminated;
//	                    encode only, Unmarshal does not accept string fields
//	`smb:"skip"`      - field is ignored by the codec (computed elsewhere)
//
// Fields are processed in declaration order, little-endian, matching the
// wire layout of MS-CIFS / MS-SMB2 structures.
package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf16"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/pveres/go-smb/smb/encoder")

// Metadata is the parent-relative information (the top-level buffer and a
// byte offset into it) passed to BinaryMarshaler/BinaryUnmarshaler
// implementations. The codec does not fill it in: Marshal, Unmarshal and
// their recursive calls for nested structs each pass an empty Metadata.
type Metadata struct {
	ParentBuf []byte
	Offset    int
}

// BinaryMarshaler is implemented by message types with bespoke wire layout
// (variable-length trailing data, buffer-format bytes, etc.) that the
// generic struct-tag walker cannot express.
type BinaryMarshaler interface {
	MarshalBinary(meta *Metadata) ([]byte, error)
}

// BinaryUnmarshaler is the decode counterpart of BinaryMarshaler.
type BinaryUnmarshaler interface {
	UnmarshalBinary(buf []byte, meta *Metadata) error
}

type tag struct {
	fixed    int
	fixedSet bool
	lenField string
	asciiz   bool
	skip     bool
}

func parseTag(raw string) tag {
	var t tag
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "asciiz":
			t.asciiz = true
		case part == "skip":
			t.skip = true
		case strings.HasPrefix(part, "fixed:"):
			var n int
			fmt.Sscanf(part[len("fixed:"):], "%d", &n)
			t.fixed = n
			t.fixedSet = true
		case strings.HasPrefix(part, "len:"):
			t.lenField = part[len("len:"):]
		}
	}
	return t
}

// Marshal encodes v (a struct, or pointer to struct) to its wire
// representation. Types implementing BinaryMarshaler are delegated to
// directly; everything else is walked field by field using struct tags.
func Marshal(v interface{}) ([]byte, error) {
	return marshal(v, &Metadata{})
}

func marshal(v interface{}, meta *Metadata) ([]byte, error) {
	if m, ok := v.(BinaryMarshaler); ok {
		return m.MarshalBinary(meta)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("encoder: cannot marshal non-struct value of kind %s", rv.Kind())
	}

	buf := new(bytes.Buffer)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		t := parseTag(sf.Tag.Get("smb"))
		if t.skip {
			continue
		}
		fv := rv.Field(i)
		if err := marshalField(buf, fv, t, rv); err != nil {
			return nil, fmt.Errorf("encoder: field %s: %w", sf.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func marshalField(buf *bytes.Buffer, fv reflect.Value, t tag, parent reflect.Value) error {
	switch fv.Kind() {
	case reflect.Uint8:
		return buf.WriteByte(byte(fv.Uint()))
	case reflect.Uint16:
		return binary.Write(buf, binary.LittleEndian, uint16(fv.Uint()))
	case reflect.Uint32:
		return binary.Write(buf, binary.LittleEndian, uint32(fv.Uint()))
	case reflect.Uint64:
		return binary.Write(buf, binary.LittleEndian, uint64(fv.Uint()))
	case reflect.Int16:
		return binary.Write(buf, binary.LittleEndian, int16(fv.Int()))
	case reflect.Int32:
		return binary.Write(buf, binary.LittleEndian, int32(fv.Int()))
	case reflect.Int64:
		return binary.Write(buf, binary.LittleEndian, int64(fv.Int()))
	case reflect.String:
		if t.asciiz {
			for _, r := range utf16.Encode([]rune(fv.String())) {
				binary.Write(buf, binary.LittleEndian, r)
			}
			return binary.Write(buf, binary.LittleEndian, uint16(0))
		}
		_, err := buf.WriteString(fv.String())
		return err
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			b := fv.Bytes()
			if t.fixedSet && len(b) != t.fixed {
				padded := make([]byte, t.fixed)
				copy(padded, b)
				b = padded
			}
			_, err := buf.Write(b)
			return err
		}
		for i := 0; i < fv.Len(); i++ {
			elem := fv.Index(i).Interface()
			eb, err := marshal(elem, &Metadata{})
			if err != nil {
				return err
			}
			buf.Write(eb)
		}
		return nil
	case reflect.Struct:
		eb, err := marshal(fv.Interface(), &Metadata{})
		if err != nil {
			return err
		}
		_, err = buf.Write(eb)
		return err
	case reflect.Ptr:
		if fv.IsNil() {
			return nil
		}
		return marshalField(buf, fv.Elem(), t, parent)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
}

// Unmarshal decodes buf into v (a pointer to struct). Types implementing
// BinaryUnmarshaler are delegated to directly.
func Unmarshal(buf []byte, v interface{}) error {
	return unmarshal(buf, v, &Metadata{})
}

func unmarshal(buf []byte, v interface{}, meta *Metadata) error {
	if u, ok := v.(BinaryUnmarshaler); ok {
		return u.UnmarshalBinary(buf, meta)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("encoder: Unmarshal requires a non-nil pointer")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("encoder: cannot unmarshal into non-struct value of kind %s", rv.Kind())
	}

	r := bytes.NewReader(buf)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		t := parseTag(sf.Tag.Get("smb"))
		if t.skip {
			continue
		}
		fv := rv.Field(i)
		if err := unmarshalField(r, fv, t); err != nil {
			return fmt.Errorf("encoder: field %s: %w", sf.Name, err)
		}
	}
	return nil
}

func unmarshalField(r *bytes.Reader, fv reflect.Value, t tag) error {
	switch fv.Kind() {
	case reflect.Uint8:
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(b))
		return nil
	case reflect.Uint16:
		var x uint16
		if err := binary.Read(r, binary.LittleEndian, &x); err != nil {
			return err
		}
		fv.SetUint(uint64(x))
		return nil
	case reflect.Uint32:
		var x uint32
		if err := binary.Read(r, binary.LittleEndian, &x); err != nil {
			return err
		}
		fv.SetUint(uint64(x))
		return nil
	case reflect.Uint64:
		var x uint64
		if err := binary.Read(r, binary.LittleEndian, &x); err != nil {
			return err
		}
		fv.SetUint(x)
		return nil
	case reflect.Int16:
		var x int16
		if err := binary.Read(r, binary.LittleEndian, &x); err != nil {
			return err
		}
		fv.SetInt(int64(x))
		return nil
	case reflect.Int32:
		var x int32
		if err := binary.Read(r, binary.LittleEndian, &x); err != nil {
			return err
		}
		fv.SetInt(int64(x))
		return nil
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			n := t.fixed
			if !t.fixedSet {
				n = r.Len()
			}
			b := make([]byte, n)
			if _, err := r.Read(b); err != nil {
				return err
			}
			fv.SetBytes(b)
			return nil
		}
		return fmt.Errorf("unmarshal: slices of non-byte element require a BinaryUnmarshaler on the parent type")
	case reflect.Struct:
		rest := make([]byte, r.Len())
		n, _ := r.Read(rest)
		sub := reflect.New(fv.Type())
		if err := unmarshal(rest[:n], sub.Interface(), &Metadata{}); err != nil {
			return err
		}
		fv.Set(sub.Elem())
		return nil
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
}

// PutUint16 / PutUint32 are small helpers used by hand-written
// MarshalBinary implementations that build their buffer manually (header
// followed by variable-length trailer) rather than walking struct tags.
func PutUint16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.LittleEndian, v) }
func PutUint32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func PutUint64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.LittleEndian, v) }

func init() {
	_ = log
}
