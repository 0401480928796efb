package env

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rekapu/go-rekapu/service/logger"
)

var validators = map[string][]string{}

var v = validator.New()

var validatorsMu = &sync.Mutex{}

// RegisterValidation associates validation tags with an env var name; the
// tags are checked every time the var is read
func RegisterValidation(name string, tags ...string) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	validators[name] = append(validators[name], tags...)
}

// Get reads a typed env var, logging (not failing) on validation errors so
// a misconfigured var surfaces in logs before it surfaces as behavior
func Get[T any](ctx context.Context, name string) T {
	checkValidations(ctx, name)

	if !viper.IsSet(name) {
		return *new(T)
	}

	it, ok := viper.Get(name).(T)
	if !ok {
		logger.For(ctx).Errorf("invalid env var: %s, expected type: %T", name, it)
		return *new(T)
	}

	return it
}

// GetIfExists reads a typed env var and reports whether it was set
func GetIfExists[T any](ctx context.Context, name string) (T, bool) {
	checkValidations(ctx, name)

	if !viper.IsSet(name) {
		return *new(T), false
	}

	it, ok := viper.Get(name).(T)
	if !ok {
		return *new(T), false
	}

	return it, true
}

func checkValidations(ctx context.Context, name string) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	for _, tag := range validators[name] {
		if err := v.Var(viper.Get(name), tag); err != nil {
			logger.For(ctx).Errorf("invalid env var: %s, tag: %s, err: %s", name, tag, err.Error())
		}
	}
}
