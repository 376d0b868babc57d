// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cfgstruct binds a configuration struct to pflag flags using
// struct tags for defaults and help texts.
package cfgstruct

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// confVar is a substitutable variable inside default tags.
type confVar struct {
	val    string
	nested bool
}

// BindOpt customizes Bind behavior.
type BindOpt func(vars map[string]confVar)

// ConfDir sets a single directory for all $CONFDIR substitutions.
func ConfDir(path string) BindOpt {
	return func(vars map[string]confVar) {
		vars["CONFDIR"] = confVar{val: path, nested: false}
	}
}

// ConfDirNested sets a directory for $CONFDIR substitutions where each
// nested struct appends its own subdirectory.
func ConfDirNested(path string) BindOpt {
	return func(vars map[string]confVar) {
		vars["CONFDIR"] = confVar{val: path, nested: true}
	}
}

// Bind sets flags on a FlagSet that match the configuration struct.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("invalid config type: %#v, expecting pointer to struct", config))
	}
	vars := map[string]confVar{}
	for _, opt := range opts {
		opt(vars)
	}
	bindConfig(flags, "", ptr.Elem(), vars)
}

func bindConfig(flags *pflag.FlagSet, prefix string, val reflect.Value, vars map[string]confVar) {
	if val.Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %s, expecting struct", val.Type()))
	}
	typ := val.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldval := val.Field(i)
		flagname := prefix + hyphenate(field.Name)

		switch field.Type.Kind() {
		case reflect.Struct:
			bindConfig(flags, flagname+".", fieldval, vars)
			continue
		case reflect.Array, reflect.Slice:
			for j := 0; j < fieldval.Len(); j++ {
				elemname := fmt.Sprintf("%s.%02d.", flagname, j)
				bindConfig(flags, elemname, fieldval.Index(j), vars)
			}
			continue
		}

		help := field.Tag.Get("help")
		def := expand(field.Tag.Get("default"), prefix, vars)
		addr := fieldval.Addr().Interface()

		if value, ok := addr.(pflag.Value); ok {
			if def != "" {
				if err := value.Set(def); err != nil {
					panic(fmt.Sprintf("invalid default %q for %s: %v", def, flagname, err))
				}
			}
			flags.Var(value, flagname, help)
			if f := flags.Lookup(flagname); f != nil {
				f.DefValue = def
			}
		} else {
			switch typed := addr.(type) {
			case *string:
				flags.StringVar(typed, flagname, def, help)
			case *bool:
				flags.BoolVar(typed, flagname, parseBool(flagname, def), help)
			case *int:
				flags.IntVar(typed, flagname, int(parseInt(flagname, def)), help)
			case *int64:
				flags.Int64Var(typed, flagname, parseInt(flagname, def), help)
			case *uint:
				flags.UintVar(typed, flagname, uint(parseUint(flagname, def)), help)
			case *uint64:
				flags.Uint64Var(typed, flagname, parseUint(flagname, def), help)
			case *float64:
				flags.Float64Var(typed, flagname, parseFloat(flagname, def), help)
			case *time.Duration:
				flags.DurationVar(typed, flagname, parseDuration(flagname, def), help)
			default:
				panic(fmt.Sprintf("invalid field type %s for flag %s", field.Type, flagname))
			}
		}

		if field.Tag.Get("hidden") == "true" {
			_ = flags.MarkHidden(flagname)
		}
	}
}

// hyphenate turns CamelCase into camel-case.
func hyphenate(name string) string {
	var out strings.Builder
	for i, r := range name {
		if 'A' <= r && r <= 'Z' {
			if i > 0 {
				out.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		out.WriteRune(r)
	}
	return out.String()
}

// expand substitutes $VAR and ${VAR} in a default tag.
func expand(def, prefix string, vars map[string]confVar) string {
	if def == "" {
		return def
	}
	return os.Expand(def, func(name string) string {
		v, ok := vars[name]
		if !ok {
			return "$" + name
		}
		if !v.nested {
			return v.val
		}
		parts := append([]string{v.val}, splitPrefix(prefix)...)
		return filepath.Join(parts...)
	})
}

func splitPrefix(prefix string) []string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return nil
	}
	return strings.Split(prefix, ".")
}

func parseBool(flagname, def string) bool {
	if def == "" {
		return false
	}
	v, err := strconv.ParseBool(def)
	if err != nil {
		panic(fmt.Sprintf("invalid bool default %q for %s", def, flagname))
	}
	return v
}

func parseInt(flagname, def string) int64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseInt(def, 0, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid int default %q for %s", def, flagname))
	}
	return v
}

func parseUint(flagname, def string) uint64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseUint(def, 0, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid uint default %q for %s", def, flagname))
	}
	return v
}

func parseFloat(flagname, def string) float64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseFloat(def, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid float default %q for %s", def, flagname))
	}
	return v
}

func parseDuration(flagname, def string) time.Duration {
	if def == "" || def == "0" {
		return 0
	}
	v, err := time.ParseDuration(def)
	if err != nil {
		panic(fmt.Sprintf("invalid duration default %q for %s", def, flagname))
	}
	return v
}
