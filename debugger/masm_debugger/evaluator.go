package masm_debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// Diagnostics returned in-band as the evaluate result.
const (
	diagInvalidExpression = "<Invalid expression>"
	diagInvalidPrefix     = "<Invalid data type prefix>"
	diagMissingParen      = "<Missing closing parenthesis>"
	diagInvalidParameter  = "<Invalid parameter>"
	diagInvalidFormat     = "<Invalid format specifier>"
	diagInvalidBase       = "<Invalid base address>"
	diagReadMemory        = "<Failed to read memory>"
	diagCharOnlyBytes     = "<Char format (c) can only be applied to bytes (by)>"
)

// dataTypeSizes maps the array read prefixes to their element size.
var dataTypeSizes = map[string]int{
	"by":  1,
	"wo":  2,
	"dwo": 4,
}

const formatChars = "hdubc"

// evaluateWorker evaluates the adapter's extended expression language:
//
//	by|wo|dwo "(" identifier ")" [, count] [, format]
//	identifier [, format]
//
// Input containing "(" must start with one of the data type prefixes;
// any other input is an identifier with an optional format, evaluated by
// the engine's native MASM evaluator.
func (d *MasmDebugger) evaluateWorker(expression string) string {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return diagInvalidExpression
	}
	if paren := strings.Index(expr, "("); paren >= 0 {
		prefix := strings.TrimSpace(expr[:paren])
		if _, ok := dataTypeSizes[prefix]; !ok {
			return diagInvalidPrefix
		}
		return d.evaluateArray(prefix, expr[paren:])
	}
	return d.evaluateSimple(expr)
}

func (d *MasmDebugger) evaluateArray(prefix string, rest string) string {
	size := dataTypeSizes[prefix]

	closing := strings.Index(rest, ")")
	if closing < 0 {
		return diagMissingParen
	}
	identifier := strings.TrimSpace(rest[1:closing])
	if identifier == "" {
		return diagInvalidExpression
	}

	count := -1
	format := byte('h')
	tail := strings.TrimSpace(rest[closing+1:])
	if tail != "" {
		if !strings.HasPrefix(tail, ",") {
			return diagInvalidParameter
		}
		params := strings.Split(tail[1:], ",")
		if len(params) > 2 {
			return diagInvalidParameter
		}
		for _, param := range params {
			param = strings.TrimSpace(param)
			if param == "" {
				return diagInvalidParameter
			}
			if n, err := strconv.Atoi(param); err == nil {
				if n < 0 || count != -1 {
					return diagInvalidParameter
				}
				count = n
				continue
			}
			if len(param) == 1 && strings.IndexByte(formatChars, param[0]) >= 0 {
				format = param[0]
				continue
			}
			if len(param) == 1 {
				return diagInvalidFormat
			}
			return diagInvalidParameter
		}
	}

	if format == 'c' && size != 1 {
		return diagCharOnlyBytes
	}

	base, err := d.engine.Evaluate(identifier)
	if err != nil {
		return diagInvalidBase
	}

	if count == 0 {
		return "{ }"
	}
	elements := count
	if elements == -1 {
		elements = 1
	}
	data, err := d.engine.ReadVirtual(base, elements*size)
	if err != nil || len(data) < elements*size {
		return diagReadMemory
	}

	values := make([]string, elements)
	for i := 0; i < elements; i++ {
		values[i] = formatValue(sliceValue(data, i*size, size), size, format)
	}
	if count <= 1 {
		return values[0]
	}
	return fmt.Sprintf("{ %s }", strings.Join(values, ", "))
}

func (d *MasmDebugger) evaluateSimple(expr string) string {
	identifier := expr
	format := byte('h')
	if comma := strings.Index(expr, ","); comma >= 0 {
		identifier = strings.TrimSpace(expr[:comma])
		spec := strings.TrimSpace(expr[comma+1:])
		if len(spec) != 1 || strings.IndexByte(formatChars, spec[0]) < 0 {
			return diagInvalidFormat
		}
		format = spec[0]
	}
	if identifier == "" {
		return diagInvalidExpression
	}
	value, err := d.engine.Evaluate(identifier)
	if err != nil {
		return diagInvalidExpression
	}
	if format == 'c' {
		if value > 0xff {
			return diagInvalidFormat
		}
		return formatValue(value, 1, 'c')
	}
	return formatValue(value, 4, format)
}

// sliceValue reads one little-endian element out of the raw buffer.
func sliceValue(data []byte, offset int, size int) uint64 {
	var value uint64
	for i := size - 1; i >= 0; i-- {
		value = value<<8 | uint64(data[offset+i])
	}
	return value
}

// formatValue renders one element. size selects the width for hex and the
// sign extension for decimal.
func formatValue(value uint64, size int, format byte) string {
	switch format {
	case 'h':
		return fmt.Sprintf("0x%0*x", size*2, value)
	case 'd':
		return strconv.FormatInt(signExtend(value, size), 10)
	case 'u':
		return strconv.FormatUint(value, 10)
	case 'b':
		return formatBinary(value, size)
	case 'c':
		if value >= 0x20 && value <= 0x7e {
			return fmt.Sprintf("'%c'", rune(value))
		}
		return fmt.Sprintf("0x%02x", value)
	}
	return fmt.Sprintf("0x%0*x", size*2, value)
}

func signExtend(value uint64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(value))
	case 2:
		return int64(int16(value))
	default:
		return int64(int32(value))
	}
}

// formatBinary groups bytes by nibbles and wider elements by bytes.
func formatBinary(value uint64, size int) string {
	bits := size * 8
	group := 8
	if size == 1 {
		group = 4
	}
	var groups []string
	for i := bits - group; i >= 0; i -= group {
		part := value >> uint(i) & (1<<uint(group) - 1)
		groups = append(groups, fmt.Sprintf("%0*b", group, part))
	}
	return strings.Join(groups, " ")
}

// evaluateVariableWorker backs hover evaluation: a known symbol reads its
// memory, a register name reads the register, anything else yields an
// empty string so the IDE shows no popup.
func (d *MasmDebugger) evaluateVariableWorker(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if symbolType, err := d.engine.SymbolType(name); err == nil {
		address, err := d.engine.OffsetByName(name)
		if err != nil {
			return ""
		}
		size := symbolType.Size
		if size <= 0 || size > 8 {
			size = 4
		}
		data, err := d.engine.ReadVirtual(address, size)
		if err != nil || len(data) < size {
			return ""
		}
		value := sliceValue(data, 0, size)
		return fmt.Sprintf("Address: 0x%08x, Value: 0x%0*x", address, size*2, value)
	}

	count, err := d.engine.RegisterCount()
	if err != nil {
		return ""
	}
	for i := 0; i < count; i++ {
		registerName, err := d.engine.RegisterDescription(i)
		if err != nil || !strings.EqualFold(registerName, name) {
			continue
		}
		value, err := d.engine.RegisterValue(i)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("0x%x", value)
	}
	return ""
}
