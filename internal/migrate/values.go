package migrate

import (
	"fmt"
	"strconv"
	"strings"
)

//nolint:gochecknoglobals // read-only lookup table
var integerTypes = map[string]bool{
	"integer": true, "int": true, "bigint": true, "smallint": true,
	"tinyint": true, "mediumint": true, "int2": true, "int4": true,
	"int8": true, "serial": true, "bigserial": true,
}

// isIntegerType reports whether a driver-reported column type holds
// integers, e.g. "BIGINT", "integer" or "int(11)".
func isIntegerType(typeName string) bool {
	t := strings.ToLower(strings.TrimSpace(typeName))
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}

	return integerTypes[t]
}

// normalize converts a scanned source value into one every target driver
// accepts. Text arrives as []byte from some drivers, and integer columns
// may arrive as text.
func normalize(v any, typeName string) (any, error) {
	b, ok := v.([]byte)
	if ok {
		v = string(b)
	}

	s, ok := v.(string)
	if !ok || !isIntegerType(typeName) {
		return v, nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s value %q: %w", typeName, s, err)
	}

	return n, nil
}

// toInt64 converts a normalized key value.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil //nolint:gosec // surrogate keys fit in int64
	case float64:
		return int64(n), nil
	case string:
		k, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing key %q: %w", n, err)
		}

		return k, nil
	default:
		return 0, fmt.Errorf("unsupported key type %T", v)
	}
}
