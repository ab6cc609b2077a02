package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode copies result data into a typed struct using mapstructure tags.
// Numbers decoded from JSON arrive as float64 and are converted as needed.
func Decode(data any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("tools: build decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("tools: decode result data: %w", err)
	}
	return nil
}
