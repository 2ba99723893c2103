package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FlexBool is a boolean that also accepts the spellings used in hand-written
// configs: "yes"/"no", "on"/"off", "y"/"n" and numbers.
type FlexBool bool

var boolWords = map[string]bool{
	"true": true, "t": true, "yes": true, "y": true, "on": true, "1": true,
	"false": false, "f": false, "no": false, "n": false, "off": false, "0": false,
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for FlexBool.
func (fb *FlexBool) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		*fb = FlexBool(b)
	case "!!str":
		b, ok := boolWords[strings.ToLower(strings.TrimSpace(value.Value))]
		if !ok {
			return fmt.Errorf("cannot unmarshal string %q into a boolean", value.Value)
		}
		*fb = FlexBool(b)
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return err
		}
		*fb = FlexBool(f != 0)
	default:
		return fmt.Errorf("cannot unmarshal %s into a boolean", value.Tag)
	}
	return nil
}

// MarshalYAML writes a plain boolean.
func (fb FlexBool) MarshalYAML() (any, error) {
	return bool(fb), nil
}
