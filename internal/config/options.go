package config

import "gopkg.in/yaml.v3"

// Options is a small helper to fetch typed values from free-form maps
// (hook options, hook params). It performs only minimal type coercion and
// returns the provided default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// StringSlice returns a []string for key when the value is an array of strings.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// UnmarshalYAML makes a missing or null options node decode to a non-nil,
// empty map.
func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	var tmp map[string]any
	if err := n.Decode(&tmp); err != nil {
		return err
	}
	if tmp == nil {
		tmp = map[string]any{}
	}
	*o = Options(tmp)
	return nil
}
