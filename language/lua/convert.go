package lua

import (
	"fmt"
	"math"
	"reflect"

	glua "github.com/yuin/gopher-lua"
)

// ToLua converts a Go value into a Lua value. Slices become sequences and
// string-keyed maps become tables; unsupported values are formatted with %v.
func ToLua(L *glua.LState, v any) glua.LValue {
	switch x := v.(type) {
	case nil:
		return glua.LNil
	case glua.LValue:
		return x
	case bool:
		return glua.LBool(x)
	case string:
		return glua.LString(x)
	case int:
		return glua.LNumber(x)
	case int8:
		return glua.LNumber(x)
	case int16:
		return glua.LNumber(x)
	case int32:
		return glua.LNumber(x)
	case int64:
		return glua.LNumber(x)
	case uint:
		return glua.LNumber(x)
	case uint8:
		return glua.LNumber(x)
	case uint16:
		return glua.LNumber(x)
	case uint32:
		return glua.LNumber(x)
	case uint64:
		return glua.LNumber(x)
	case float32:
		return glua.LNumber(x)
	case float64:
		return glua.LNumber(x)
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, item := range x {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, item := range x {
			t.RawSetString(k, ToLua(L, item))
		}
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		t := L.CreateTable(rv.Len(), 0)
		for n := 0; n < rv.Len(); n++ {
			t.Append(ToLua(L, rv.Index(n).Interface()))
		}
		return t
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		t := L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSetString(iter.Key().String(), ToLua(L, iter.Value().Interface()))
		}
		return t
	}
	return glua.LString(fmt.Sprintf("%v", v))
}

// ToGo converts a Lua value into a Go value. Integral numbers become int64,
// sequences become []any and other tables map[string]any. Functions and
// userdata are returned as their string form.
func ToGo(v glua.LValue) any {
	return toGo(v, map[*glua.LTable]bool{})
}

func toGo(v glua.LValue, seen map[*glua.LTable]bool) any {
	switch x := v.(type) {
	case *glua.LNilType:
		return nil
	case glua.LBool:
		return bool(x)
	case glua.LString:
		return string(x)
	case glua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *glua.LTable:
		if seen[x] {
			return nil
		}
		seen[x] = true
		defer delete(seen, x)

		if n := x.MaxN(); n > 0 && n == tableLen(x) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGo(x.RawGetInt(i), seen))
			}
			return out
		}
		out := make(map[string]any)
		x.ForEach(func(k, val glua.LValue) {
			out[k.String()] = toGo(val, seen)
		})
		return out
	default:
		return v.String()
	}
}

// tableArgs flattens a table into the map a host function receives.
func tableArgs(t *glua.LTable) map[string]any {
	args := make(map[string]any)
	seen := map[*glua.LTable]bool{t: true}
	t.ForEach(func(k, val glua.LValue) {
		args[k.String()] = toGo(val, seen)
	})
	return args
}

func tableLen(t *glua.LTable) int {
	n := 0
	t.ForEach(func(_, _ glua.LValue) { n++ })
	return n
}
