package core

import "strings"

// Cast converts a stored string value into a typed [Value] according to the
// flag's declared type. A nil raw value is null for every type; an unknown
// type tag passes the string through unchanged.
func Cast(raw *string, flagType FlagType) Value {
	if raw == nil {
		return Null()
	}

	switch flagType {
	case TypeSwitch:
		return Bool(castSwitch(*raw))
	case TypeInteger:
		return Int(castInteger(*raw))
	case TypeFloat:
		return Float(castFloat(*raw))
	case TypeString:
		return String(*raw)
	default:
		return String(*raw)
	}
}

// castSwitch applies the switch casting policy: the literals "true"/"1" and
// "false"/"0" compare exactly, everything else falls back to general truthy
// coercion where only the empty string is false.
func castSwitch(raw string) bool {
	switch raw {
	case "true", "1":
		return true
	case "false", "0", "":
		return false
	default:
		return raw != ""
	}
}

// castInteger parses a base-10 integer leniently: an optional sign followed
// by the longest run of digits. Malformed input degrades to the parsed
// prefix (or zero), it never errors.
func castInteger(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}

	if negative {
		return -n
	}
	return n
}

// castFloat parses a decimal number leniently, accepting an optional sign,
// integer part, and fractional part. Malformed input degrades to the parsed
// prefix (or zero).
func castFloat(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	var value float64
	i := 0
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		value = value*10 + float64(c-'0')
	}

	if i < len(s) && s[i] == '.' {
		scale := 0.1
		for i++; i < len(s); i++ {
			c := s[i]
			if c < '0' || c > '9' {
				break
			}
			value += float64(c-'0') * scale
			scale /= 10
		}
	}

	if negative {
		return -value
	}
	return value
}
