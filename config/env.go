package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. FAST_URING_PORT or
// FAST_URING_LOG_LEVEL
const EnvPrefix = "FAST_URING"

// ApplyEnv overrides fields of cfg from KEY=value entries carrying prefix.
// Keys are derived from the toml tags: "max-body-size" becomes
// PREFIX_MAX_BODY_SIZE, nested tables add their own segment.
func ApplyEnv(cfg *Config, prefix string, environ []string) error {
	values := make(map[string]string)
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		values[key] = value
	}
	if len(values) == 0 {
		return nil
	}
	return applyEnv(reflect.ValueOf(cfg).Elem(), prefix, values)
}

func applyEnv(target reflect.Value, prefix string, values map[string]string) error {
	targetType := target.Type()
	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		fieldValue := target.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		name := field.Tag.Get("toml")
		if name == "" {
			name = field.Name
		}
		key := prefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			if err := applyEnv(fieldValue, key, values); err != nil {
				return err
			}
			continue
		}

		value, ok := values[key]
		if !ok {
			continue
		}
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set %s from %s: %w", field.Name, key, err)
		}
	}
	return nil
}

// setFieldValue parses value into field according to its kind
func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "yes", "1":
			field.SetBool(true)
		case "false", "no", "0", "":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean %q", value)
		}

	default:
		return fmt.Errorf("unsupported field type %v", field.Type())
	}
	return nil
}
