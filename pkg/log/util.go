package log

import (
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// toFields turns logr style key/value arguments into zap fields.
// A bare error or zap.Field may appear anywhere in the list and takes one slot.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("invalid_key_%d", i/2+1)
			fields = append(fields, zap.Any(key, map[string]any{"key": args[i], "value": args[i+1]}))
		} else {
			fields = append(fields, field(key, args[i+1]))
		}
		i += 2
	}
	return fields
}

func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint8:
		return zap.Uint8(key, v)
	case uint32:
		return zap.Uint32(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case []byte:
		// Serial frames read better as hex than base64.
		return zap.String(key, hex.EncodeToString(v))
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
