package tools

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		_, ok := ParseOperator(fl.Field().String())
		return ok
	})
	return v
}

// decodeArgs turns a JSON argument payload into a typed request.
// Engines are loose with scalar types ("5" for 5, 1971 for "1971"), so decoding is weakly typed.
// Keys outside the schema are an error so the engine learns the right parameter name.
func decodeArgs(raw json.RawMessage, out any) error {
	params := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}
