package dbus

import (
	"fmt"
	"reflect"
	"sort"
)

// This file is the "small generic layer" design note §9 calls for: the
// preprocessor-expanded arity families of the original C library
// (separate typed append/read functions for 0..9 arguments) collapse
// into one signature-reflecting encoder/decoder built strictly on top
// of Builder/Iterator — the closed value-type codec is the only
// primitive either direction needs. Grounded in the teacher's
// types.go (SignatureOf) and newmarshal.go (reflect-walking
// encoder/decoder), rewritten to drive the spec-shaped Builder and
// Iterator instead of a private bytes.Buffer walk.

var (
	variantType    = reflect.TypeOf(Variant{})
	objectPathType = reflect.TypeOf(ObjectPath(""))
	signatureType  = reflect.TypeOf(Signature(""))
	byteType       = reflect.TypeOf(byte(0))
)

// SignatureOf computes the D-Bus signature that appending v would
// produce.
func SignatureOf(v interface{}) (Signature, error) {
	return signatureOfType(reflect.TypeOf(v))
}

func signatureOfType(t reflect.Type) (Signature, error) {
	if t == nil {
		return "", fmt.Errorf("dbus: cannot determine signature of nil value")
	}
	if t == variantType {
		return "v", nil
	}
	if t == objectPathType {
		return "o", nil
	}
	if t == signatureType {
		return "g", nil
	}
	switch t.Kind() {
	case reflect.Uint8:
		return "y", nil
	case reflect.Bool:
		return "b", nil
	case reflect.Int16:
		return "n", nil
	case reflect.Uint16:
		return "q", nil
	case reflect.Int32, reflect.Int:
		return "i", nil
	case reflect.Uint32, reflect.Uint:
		return "u", nil
	case reflect.Int64:
		return "x", nil
	case reflect.Uint64:
		return "t", nil
	case reflect.Float64, reflect.Float32:
		return "d", nil
	case reflect.String:
		return "s", nil
	case reflect.Slice, reflect.Array:
		elemSig, err := signatureOfType(t.Elem())
		if err != nil {
			return "", err
		}
		return "a" + elemSig, nil
	case reflect.Map:
		keySig, err := signatureOfType(t.Key())
		if err != nil {
			return "", err
		}
		valSig, err := signatureOfType(t.Elem())
		if err != nil {
			return "", err
		}
		return Signature("a{" + string(keySig) + string(valSig) + "}"), nil
	case reflect.Struct:
		sig := Signature("(")
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			fieldSig, err := signatureOfType(f.Type)
			if err != nil {
				return "", err
			}
			sig += fieldSig
		}
		return sig + ")", nil
	case reflect.Ptr:
		return signatureOfType(t.Elem())
	case reflect.Interface:
		return "", fmt.Errorf("dbus: cannot determine static signature of interface{} value; wrap it in a Variant")
	}
	return "", fmt.Errorf("dbus: cannot determine signature for %s", t)
}

// appendValue appends v to b under the signature b currently expects,
// recursing into slices, maps, structs and variants.
func appendValue(b *Builder, v reflect.Value) error {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return fmt.Errorf("dbus: cannot append nil pointer")
		}
		v = v.Elem()
	}
	t := v.Type()
	switch {
	case t == variantType:
		variant := v.Interface().(Variant)
		sig := variant.Sig
		if sig == "" {
			var err error
			sig, err = SignatureOf(variant.Value)
			if err != nil {
				return err
			}
		}
		if err := b.BeginVariant(sig); err != nil {
			return err
		}
		if err := appendValue(b, reflect.ValueOf(variant.Value)); err != nil {
			return err
		}
		return b.EndVariant()
	case t == objectPathType:
		return b.AppendObjectPath(v.Interface().(ObjectPath))
	case t == signatureType:
		return b.AppendSignature(v.Interface().(Signature))
	}
	switch v.Kind() {
	case reflect.Uint8:
		return b.AppendByte(byte(v.Uint()))
	case reflect.Bool:
		return b.AppendBool(v.Bool())
	case reflect.Int16:
		return b.AppendInt16(int16(v.Int()))
	case reflect.Uint16:
		return b.AppendUint16(uint16(v.Uint()))
	case reflect.Int32, reflect.Int:
		return b.AppendInt32(int32(v.Int()))
	case reflect.Uint32, reflect.Uint:
		return b.AppendUint32(uint32(v.Uint()))
	case reflect.Int64:
		return b.AppendInt64(v.Int())
	case reflect.Uint64:
		return b.AppendUint64(v.Uint())
	case reflect.Float64, reflect.Float32:
		return b.AppendFloat64(v.Float())
	case reflect.String:
		return b.AppendString(v.String())
	case reflect.Slice, reflect.Array:
		if err := b.BeginArray(); err != nil {
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := appendValue(b, v.Index(i)); err != nil {
				return err
			}
		}
		return b.EndArray()
	case reflect.Map:
		if err := b.BeginArray(); err != nil {
			return err
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			if err := b.BeginDictEntry(); err != nil {
				return err
			}
			if err := appendValue(b, k); err != nil {
				return err
			}
			if err := appendValue(b, v.MapIndex(k)); err != nil {
				return err
			}
			if err := b.EndDictEntry(); err != nil {
				return err
			}
		}
		return b.EndArray()
	case reflect.Struct:
		if err := b.BeginStruct(); err != nil {
			return err
		}
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).PkgPath != "" {
				continue
			}
			if err := appendValue(b, v.Field(i)); err != nil {
				return err
			}
		}
		return b.EndStruct()
	}
	return fmt.Errorf("dbus: cannot append value of kind %s", v.Kind())
}

// AppendValues appends each of args, in order, to a fresh signature
// extension on b (SetSignature/ExtendSignature is the caller's
// responsibility when building a Message — see message.go).
func AppendValues(b *Builder, args ...interface{}) error {
	for _, a := range args {
		if err := appendValue(b, reflect.ValueOf(a)); err != nil {
			return err
		}
	}
	return nil
}

// readInterfaceValue decodes the next value under it's current
// signature into a generic interface{}, recursing into containers.
// Used when the caller doesn't know (or care about) the concrete Go
// type ahead of time, mirroring the teacher's Interface-kind decode
// path in newmarshal.go.
func readInterfaceValue(it *Iterator) (interface{}, error) {
	cur := it.current()
	if len(cur) == 0 {
		return nil, fmt.Errorf("dbus: iterator: no more values")
	}
	switch cur[0] {
	case 'y':
		return it.NextByte()
	case 'b':
		return it.NextBool()
	case 'n':
		return it.NextInt16()
	case 'q':
		return it.NextUint16()
	case 'i':
		return it.NextInt32()
	case 'u':
		return it.NextUint32()
	case 'x':
		return it.NextInt64()
	case 't':
		return it.NextUint64()
	case 'd':
		return it.NextFloat64()
	case 's':
		return it.NextString()
	case 'o':
		return it.NextObjectPath()
	case 'g':
		return it.NextSignature()
	case 'v':
		sig, err := it.EnterVariant()
		if err != nil {
			return nil, err
		}
		val, err := readInterfaceValue(it)
		if err != nil {
			return nil, err
		}
		if err := it.ExitVariant(); err != nil {
			return nil, err
		}
		return Variant{Sig: sig, Value: val}, nil
	case 'a':
		elemSig, err := it.EnterArray()
		if err != nil {
			return nil, err
		}
		if elemSig[0] == '{' {
			result := make(map[interface{}]interface{})
			for {
				more, err := it.InArray()
				if err != nil {
					return nil, err
				}
				if !more {
					break
				}
				if err := it.EnterDictEntry(); err != nil {
					return nil, err
				}
				key, err := readInterfaceValue(it)
				if err != nil {
					return nil, err
				}
				val, err := readInterfaceValue(it)
				if err != nil {
					return nil, err
				}
				if err := it.ExitDictEntry(); err != nil {
					return nil, err
				}
				result[key] = val
			}
			if err := it.ExitArray(); err != nil {
				return nil, err
			}
			return result, nil
		}
		result := make([]interface{}, 0)
		for {
			more, err := it.InArray()
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
			val, err := readInterfaceValue(it)
			if err != nil {
				return nil, err
			}
			result = append(result, val)
		}
		if err := it.ExitArray(); err != nil {
			return nil, err
		}
		return result, nil
	case '(':
		if err := it.EnterStruct(); err != nil {
			return nil, err
		}
		result := make([]interface{}, 0)
		top := &it.scopes[len(it.scopes)-1]
		for top.remaining != "" {
			val, err := readInterfaceValue(it)
			if err != nil {
				return nil, err
			}
			result = append(result, val)
		}
		if err := it.ExitStruct(); err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, fmt.Errorf("dbus: iterator: cannot decode type %q generically", cur[0])
	}
}

// readValue decodes the next value under it's current signature into
// target, a settable reflect.Value, recursing into containers.
func readValue(it *Iterator, target reflect.Value) error {
	for target.Kind() == reflect.Ptr {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}
	if target.Kind() == reflect.Interface {
		val, err := readInterfaceValue(it)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(val))
		return nil
	}
	t := target.Type()
	switch {
	case t == variantType:
		sig, err := it.EnterVariant()
		if err != nil {
			return err
		}
		val, err := readInterfaceValue(it)
		if err != nil {
			return err
		}
		if err := it.ExitVariant(); err != nil {
			return err
		}
		target.Set(reflect.ValueOf(Variant{Sig: sig, Value: val}))
		return nil
	case t == objectPathType:
		v, err := it.NextObjectPath()
		if err != nil {
			return err
		}
		target.SetString(string(v))
		return nil
	case t == signatureType:
		v, err := it.NextSignature()
		if err != nil {
			return err
		}
		target.SetString(string(v))
		return nil
	}
	switch target.Kind() {
	case reflect.Uint8:
		v, err := it.NextByte()
		if err != nil {
			return err
		}
		target.SetUint(uint64(v))
		return nil
	case reflect.Bool:
		v, err := it.NextBool()
		if err != nil {
			return err
		}
		target.SetBool(v)
		return nil
	case reflect.Int16:
		v, err := it.NextInt16()
		if err != nil {
			return err
		}
		target.SetInt(int64(v))
		return nil
	case reflect.Uint16:
		v, err := it.NextUint16()
		if err != nil {
			return err
		}
		target.SetUint(uint64(v))
		return nil
	case reflect.Int32, reflect.Int:
		v, err := it.NextInt32()
		if err != nil {
			return err
		}
		target.SetInt(int64(v))
		return nil
	case reflect.Uint32, reflect.Uint:
		v, err := it.NextUint32()
		if err != nil {
			return err
		}
		target.SetUint(uint64(v))
		return nil
	case reflect.Int64:
		v, err := it.NextInt64()
		if err != nil {
			return err
		}
		target.SetInt(v)
		return nil
	case reflect.Uint64:
		v, err := it.NextUint64()
		if err != nil {
			return err
		}
		target.SetUint(v)
		return nil
	case reflect.Float64, reflect.Float32:
		v, err := it.NextFloat64()
		if err != nil {
			return err
		}
		target.SetFloat(v)
		return nil
	case reflect.String:
		v, err := it.NextString()
		if err != nil {
			return err
		}
		target.SetString(v)
		return nil
	case reflect.Slice:
		elemSig, err := it.EnterArray()
		if err != nil {
			return err
		}
		target.Set(reflect.MakeSlice(t, 0, 0))
		if elemSig[0] == '{' {
			return fmt.Errorf("dbus: cannot decode a{..} array into a slice target; use a map")
		}
		for {
			more, err := it.InArray()
			if err != nil {
				return err
			}
			if !more {
				break
			}
			elem := reflect.New(t.Elem()).Elem()
			if err := readValue(it, elem); err != nil {
				return err
			}
			target.Set(reflect.Append(target, elem))
		}
		return it.ExitArray()
	case reflect.Map:
		elemSig, err := it.EnterArray()
		if err != nil {
			return err
		}
		if elemSig[0] != '{' {
			return fmt.Errorf("dbus: cannot decode a non-dict array into a map target")
		}
		target.Set(reflect.MakeMap(t))
		for {
			more, err := it.InArray()
			if err != nil {
				return err
			}
			if !more {
				break
			}
			if err := it.EnterDictEntry(); err != nil {
				return err
			}
			key := reflect.New(t.Key()).Elem()
			if err := readValue(it, key); err != nil {
				return err
			}
			val := reflect.New(t.Elem()).Elem()
			if err := readValue(it, val); err != nil {
				return err
			}
			if err := it.ExitDictEntry(); err != nil {
				return err
			}
			target.SetMapIndex(key, val)
		}
		return it.ExitArray()
	case reflect.Struct:
		if err := it.EnterStruct(); err != nil {
			return err
		}
		for i := 0; i < target.NumField(); i++ {
			if target.Type().Field(i).PkgPath != "" {
				continue
			}
			if err := readValue(it, target.Field(i)); err != nil {
				return err
			}
		}
		return it.ExitStruct()
	}
	return fmt.Errorf("dbus: cannot decode into kind %s", target.Kind())
}

// ReadAll decodes every remaining top-level value from it into a
// generic []interface{}, for callers (e.g. the dbuscall CLI) that
// don't know a reply's argument types ahead of time.
func ReadAll(it *Iterator) ([]interface{}, error) {
	var out []interface{}
	for !it.Done() {
		v, err := readInterfaceValue(it)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadValues decodes one value per element of out (each a pointer)
// from it, in order.
func ReadValues(it *Iterator, out ...interface{}) error {
	for _, o := range out {
		v := reflect.ValueOf(o)
		if v.Kind() != reflect.Ptr {
			return fmt.Errorf("dbus: ReadValues argument %T is not a pointer", o)
		}
		if err := readValue(it, v.Elem()); err != nil {
			return err
		}
	}
	return nil
}
