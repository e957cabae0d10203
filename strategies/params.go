package strategies

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

func intParam(params map[string]string, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return v, nil
}

func decimalParam(params map[string]string, key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parameter %s: %w", key, err)
	}
	return v, nil
}
