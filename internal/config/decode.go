package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Decode binds a node's keys onto the exported, `cfg`-tagged fields of the
// struct pointed to by out. Fields are required unless their tag carries the
// `,optional` flag; a missing required key or a value of the wrong kind is a
// *ConfigError. Fields without a cfg tag are ignored, so callers can preset
// defaults before decoding.
func Decode(n Node, out any) error {
	return decodeStruct(n, out, "")
}

func decodeStruct(n Node, out any, path string) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a pointer to struct, got %T", out)
	}
	sv := rv.Elem()
	st := sv.Type()

	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("cfg")
		if tag == "" || tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		optional := opts == "optional"

		raw, present := n[name]
		if !present || raw == nil {
			if optional {
				continue
			}
			return errMissing(join(path, name), "required key is missing")
		}
		if err := setValue(sv.Field(i), raw, join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))
var nodeType = reflect.TypeOf(Node{})

func setValue(dst reflect.Value, raw any, path string) error {
	if dst.Type() == nodeType {
		n, ok := raw.(Node)
		if !ok {
			return errType(path, fmt.Sprintf("expected mapping, got %T", raw))
		}
		dst.Set(reflect.ValueOf(n.Clone()))
		return nil
	}
	if dst.Type() == durationType {
		s, ok := raw.(string)
		if !ok {
			return errType(path, fmt.Sprintf("expected duration string, got %T", raw))
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return errType(path, fmt.Sprintf("invalid duration %q", s))
		}
		dst.SetInt(int64(d))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return errType(path, fmt.Sprintf("expected string, got %T", raw))
		}
		dst.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return errType(path, fmt.Sprintf("expected bool, got %T", raw))
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, ok := asInt(raw)
		if !ok {
			return errType(path, fmt.Sprintf("expected integer, got %T", raw))
		}
		dst.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, ok := asFloat(raw)
		if !ok {
			return errType(path, fmt.Sprintf("expected number, got %T", raw))
		}
		dst.SetFloat(f)
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok {
			return errType(path, fmt.Sprintf("expected list, got %T", raw))
		}
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := setValue(out.Index(i), item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		dst.Set(out)
	case reflect.Map:
		n, ok := raw.(Node)
		if !ok {
			return errType(path, fmt.Sprintf("expected mapping, got %T", raw))
		}
		if dst.Type().Key().Kind() != reflect.String {
			return errType(path, "map targets must be keyed by string")
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(n))
		for k, v := range n {
			ev := reflect.New(dst.Type().Elem()).Elem()
			if err := setValue(ev, v, join(path, k)); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k), ev)
		}
		dst.Set(out)
	case reflect.Struct:
		n, ok := raw.(Node)
		if !ok {
			return errType(path, fmt.Sprintf("expected mapping, got %T", raw))
		}
		return decodeStruct(n, dst.Addr().Interface(), path)
	case reflect.Pointer:
		if dst.Type().Elem().Kind() != reflect.Struct {
			return errType(path, fmt.Sprintf("unsupported pointer target %s", dst.Type()))
		}
		ptr := reflect.New(dst.Type().Elem())
		n, ok := raw.(Node)
		if !ok {
			return errType(path, fmt.Sprintf("expected mapping, got %T", raw))
		}
		if err := decodeStruct(n, ptr.Interface(), path); err != nil {
			return err
		}
		dst.Set(ptr)
	case reflect.Interface:
		dst.Set(reflect.ValueOf(cloneValue(raw)))
	default:
		return errType(path, fmt.Sprintf("unsupported target kind %s", dst.Kind()))
	}
	return nil
}

func asInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case float64:
		i := int64(v)
		if float64(i) == v {
			return i, true
		}
	}
	return 0, false
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}
