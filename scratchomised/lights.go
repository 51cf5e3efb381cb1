package scratchomised

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	LightOnColor  = "0xFFFF00"
	LightOffColor = NullValue
)

// lit colours as the peer reports them: yellow, either unsigned or as a
// signed 32-bit ARGB int.
const (
	litRGB  = 0xFFFF00
	litARGB = -256
)

var onWords = []string{"on", "allumé", "true", "1", "yes", "oui"}

// DefineProperty asks the peer to set property on object. A value of
// NullValue clears it.
func (s *Session) DefineProperty(object, property, value string) error {
	if object == "" || property == "" {
		return NewError(ErrorMissingArgument, "define_property needs object and property")
	}
	return s.Send(ActionDefineProperty, DefinePropertyArgs{Object: object, Property: property, Value: value})
}

// SetColor sets the color property. hex is 0xRRGGBB; a leading # or a bare
// RRGGBB is accepted too.
func (s *Session) SetColor(object, hex string) error {
	h := strings.TrimPrefix(strings.TrimPrefix(hex, "#"), "0x")
	if _, err := strconv.ParseUint(h, 16, 32); err != nil || h == "" {
		return WrapError(ErrorInvalidMessage, "bad colour "+strconv.Quote(hex), err)
	}
	return s.DefineProperty(object, "color", "0x"+strings.ToUpper(h))
}

func (s *Session) ClearProperty(object, property string) error {
	return s.DefineProperty(object, property, NullValue)
}

// SetLight switches a light by colouring it yellow or clearing its colour.
func (s *Session) SetLight(object string, on bool) error {
	if on {
		return s.DefineProperty(object, "color", LightOnColor)
	}
	return s.DefineProperty(object, "color", LightOffColor)
}

// SetLightState is SetLight with a free-form state word.
func (s *Session) SetLightState(object, state string) error {
	return s.SetLight(object, IsOnWord(state))
}

// IsOnWord reports whether state reads as "on" in English or French.
func IsOnWord(state string) bool {
	w := strings.ToLower(strings.TrimSpace(state))
	for _, on := range onWords {
		if w == on {
			return true
		}
	}
	return false
}

// IsLit reports whether the mirrored object currently has the "on" colour.
func (s *Session) IsLit(object string) bool {
	o, ok := s.store.Get(object)
	if !ok {
		return false
	}
	return ColorIsLit(o.Properties["color"])
}

// ColorIsLit interprets a color value as decoded from an update.
func ColorIsLit(v any) bool {
	var n int64
	switch c := v.(type) {
	case float64:
		n = int64(c)
	case int:
		n = int64(c)
	case int64:
		n = c
	case json.Number:
		i, err := c.Int64()
		if err != nil {
			return false
		}
		n = i
	case string:
		i, err := parseColor(c)
		if err != nil {
			return false
		}
		n = i
	default:
		return false
	}
	return n == litRGB || n == litARGB
}

func parseColor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return strconv.ParseInt(s[2:], 16, 64)
	case strings.HasPrefix(s, "#"):
		return strconv.ParseInt(s[1:], 16, 64)
	default:
		return strconv.ParseInt(s, 10, 64)
	}
}
