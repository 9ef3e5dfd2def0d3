package encode

import (
	"fmt"
	"strings"
)

// Kind identifies the wire shape of a value.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindString
	KindRef
	KindOption
	KindResult
	KindCallback
)

var kindNames = map[Kind]string{
	KindUnit:   "unit",
	KindBool:   "bool",
	KindU8:     "u8",
	KindU16:    "u16",
	KindU32:    "u32",
	KindU64:    "u64",
	KindI8:     "i8",
	KindI16:    "i16",
	KindI32:    "i32",
	KindI64:    "i64",
	KindF32:    "f32",
	KindF64:    "f64",
	KindString: "string",
	KindRef:    "ref",
}

var scalarKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// Type describes a value in a call signature.
// Elem is set for option and result; Args and Ret for callback.
type Type struct {
	Kind Kind
	Elem *Type
	Args []*Type
	Ret  *Type
}

// Scalar returns the descriptor for a kind without parameters.
func Scalar(k Kind) *Type {
	return &Type{Kind: k}
}

func OptionOf(elem *Type) *Type {
	return &Type{Kind: KindOption, Elem: elem}
}

func ResultOf(elem *Type) *Type {
	return &Type{Kind: KindResult, Elem: elem}
}

func CallbackOf(ret *Type, args ...*Type) *Type {
	return &Type{Kind: KindCallback, Args: args, Ret: ret}
}

// NeedsFlush reports whether a call returning t must be answered before it can return.
// Only refs and unit can be satisfied by a placeholder.
func (t *Type) NeedsFlush() bool {
	return t.Kind != KindRef && t.Kind != KindUnit
}

// ContainsRef reports whether decoding t can produce a new heap ref.
func (t *Type) ContainsRef() bool {
	switch t.Kind {
	case KindRef:
		return true
	case KindOption, KindResult:
		return t.Elem.ContainsRef()
	default:
		return false
	}
}

func (t *Type) String() string {
	switch t.Kind {
	case KindOption:
		return "option<" + t.Elem.String() + ">"
	case KindResult:
		return "result<" + t.Elem.String() + ">"
	case KindCallback:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.String()
		}
		return "callback(" + strings.Join(args, ",") + ")->" + t.Ret.String()
	default:
		if name, ok := kindNames[t.Kind]; ok {
			return name
		}
		return fmt.Sprintf("kind(%d)", t.Kind)
	}
}

// Equal reports whether t and o describe the same wire shape.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.String() == o.String()
}

// TypeSyntaxError reports a malformed type expression.
type TypeSyntaxError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *TypeSyntaxError) Error() string {
	return fmt.Sprintf("invalid type %q at offset %d: %s", e.Input, e.Offset, e.Msg)
}

// ParseType parses a type expression such as "u32", "option<string>",
// "result<ref>" or "callback(ref,u32)->string".
func ParseType(s string) (*Type, error) {
	p := &typeParser{input: s}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, p.errorf("unexpected trailing input")
	}
	return t, nil
}

type typeParser struct {
	input string
	pos   int
}

func (p *typeParser) errorf(format string, args ...any) error {
	return &TypeSyntaxError{Input: p.input, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func (p *typeParser) expect(tok string) error {
	p.skipSpace()
	if !strings.HasPrefix(p.input[p.pos:], tok) {
		return p.errorf("expected %q", tok)
	}
	p.pos += len(tok)
	return nil
}

func (p *typeParser) peek(tok string) bool {
	p.skipSpace()
	return strings.HasPrefix(p.input[p.pos:], tok)
}

func (p *typeParser) parse() (*Type, error) {
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected type name")
	}

	switch name {
	case "option", "result":
		if err := p.expect("<"); err != nil {
			return nil, err
		}
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		if elem.Kind == KindCallback {
			return nil, p.errorf("%s cannot wrap a callback", name)
		}
		if name == "option" {
			return OptionOf(elem), nil
		}
		return ResultOf(elem), nil

	case "callback":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		var args []*Type
		for !p.peek(")") {
			if len(args) > 0 {
				if err := p.expect(","); err != nil {
					return nil, err
				}
			}
			arg, err := p.parse()
			if err != nil {
				return nil, err
			}
			if arg.Kind == KindCallback || arg.Kind == KindResult {
				return nil, p.errorf("callback argument cannot be %s", arg)
			}
			args = append(args, arg)
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		ret := Scalar(KindUnit)
		if p.peek("->") {
			p.pos += 2
			var err error
			if ret, err = p.parse(); err != nil {
				return nil, err
			}
		}
		if ret.Kind == KindCallback || ret.Kind == KindResult {
			return nil, p.errorf("callback cannot return %s", ret)
		}
		return CallbackOf(ret, args...), nil
	}

	k, ok := scalarKinds[name]
	if !ok {
		return nil, p.errorf("unknown type %q", name)
	}
	return Scalar(k), nil
}
