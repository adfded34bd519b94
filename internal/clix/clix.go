package clix

import (
	"reflect"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// Parse fills a struct from the flags of a command, fields are bound by their `cli:"flag-name"` tag.
// Untagged struct fields are walked recursively. Pointer fields are only set when the flag was given.
func Parse[A any](c *cli.Context) A {
	var cfg A
	assign(c, reflect.ValueOf(&cfg).Elem())
	return cfg
}

func assign(c *cli.Context, val reflect.Value) {
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := val.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		tag := fieldType.Tag.Get("cli")
		if tag == "" {
			if field.Kind() == reflect.Struct {
				assign(c, field)
			}
			continue
		}

		if field.Kind() == reflect.Ptr {
			if !c.IsSet(tag) {
				continue
			}
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			field = field.Elem()
		}
		set(c, tag, field)
	}
}

func set(c *cli.Context, tag string, field reflect.Value) {
	switch field.Type() {
	case timeType:
		if t := c.Timestamp(tag); t != nil {
			field.Set(reflect.ValueOf(*t))
		}
		return
	case durationType:
		field.Set(reflect.ValueOf(c.Duration(tag)))
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(c.String(tag))
	case reflect.Int, reflect.Int64:
		field.SetInt(c.Int64(tag))
	case reflect.Uint, reflect.Uint64:
		field.SetUint(c.Uint64(tag))
	case reflect.Bool:
		field.SetBool(c.Bool(tag))
	case reflect.Float64:
		field.SetFloat(c.Float64(tag))
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.String:
			setSlice(field, c.StringSlice(tag))
		case reflect.Int:
			setSlice(field, c.IntSlice(tag))
		case reflect.Int64:
			setSlice(field, c.Int64Slice(tag))
		case reflect.Float64:
			setSlice(field, c.Float64Slice(tag))
		}
	}
}

// setSlice converts element wise so that slices of named types, eg. []kuvert.Status, can be bound
func setSlice[T any](field reflect.Value, values []T) {
	s := reflect.MakeSlice(field.Type(), 0, len(values))
	for _, v := range values {
		s = reflect.Append(s, reflect.ValueOf(v).Convert(field.Type().Elem()))
	}
	field.Set(s)
}
