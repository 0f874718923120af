// internal/config/units.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
)

// ErrInvalidMetricFloat indicates a value that is neither a float nor an SI-prefixed number
var ErrInvalidMetricFloat = errors.New("invalid metric float")

// ParseMetricFloat parses plain floats ("2.2e6") and SI-prefixed values
// ("2.2M", "433 MHz"). A trailing unit after the prefix is ignored.
func ParseMetricFloat(s string) (v float64, err error) {
	s = strings.TrimSpace(s)
	if v, err = strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	// humanize panics when the numeric part is only a sign or a dot
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, fmt.Errorf("%w: %q", ErrInvalidMetricFloat, s)
		}
	}()
	if v, _, err = humanize.ParseSI(s); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMetricFloat, s)
	}
	return v, nil
}

// metricFloatHook decodes strings into float64 fields with ParseMetricFloat.
func metricFloatHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Float64 {
			return data, nil
		}
		return ParseMetricFloat(reflect.ValueOf(data).String())
	}
}

// decodeHook is passed to viper.Unmarshal. It replaces viper's default hooks,
// so those are repeated here.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		metricFloatHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
