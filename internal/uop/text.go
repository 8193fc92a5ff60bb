package uop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSyntax is returned for malformed trace text.
var ErrSyntax = errors.New("uop: syntax error")

// The text format is line oriented. Blank lines and everything after ';' or
// '#' are ignored.
//
//	$0 code loop id=1 args=1 locals=2 stack=4 consts=$1
//	$1 int 1
//	.entry $0 stack=0
//	_LOAD_FAST 0
//	_LOAD_CONST_INLINE_BORROW 0 $1
//	_GUARD_BOTH_INT 0
//	_EXIT_TRACE 0 target=12
//
// Object lines declare the object table in index order. Instruction lines are
// "NAME oparg [operand] [target=N]"; object operands may be written as $N.

type fixup func(objs []any) error

type parser struct {
	trace  *Trace
	fixups []fixup
	entry  string
	line   int
}

// Parse reads a trace in text form.
func Parse(r io.Reader) (*Trace, error) {
	p := &parser{trace: &Trace{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for _, f := range p.fixups {
		if err := f(p.trace.Objects); err != nil {
			return nil, err
		}
	}
	if p.entry != "" {
		v, err := resolveRef(p.trace.Objects, p.entry)
		if err != nil {
			return nil, err
		}
		code, ok := v.(*Code)
		if !ok {
			return nil, fmt.Errorf("%w: entry %s is not a code object", ErrSyntax, p.entry)
		}
		p.trace.Entry = code
	}
	if err := p.trace.Validate(); err != nil {
		return nil, err
	}
	return p.trace, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Trace, error) {
	return Parse(strings.NewReader(s))
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, p.line, fmt.Sprintf(format, args...))
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inQuote:
			i++
		case c == '"':
			inQuote = !inQuote
		case (c == ';' || c == '#') && !inQuote:
			return line[:i]
		}
	}
	return line
}

// fields splits on white space, keeping double-quoted strings whole.
func fields(line string) ([]string, error) {
	var out []string
	for {
		line = strings.TrimLeft(line, " \t")
		if line == "" {
			return out, nil
		}
		if line[0] == '"' {
			q, err := strconv.QuotedPrefix(line)
			if err != nil {
				return nil, err
			}
			out = append(out, q)
			line = line[len(q):]
			continue
		}
		end := strings.IndexAny(line, " \t")
		if end < 0 {
			end = len(line)
		}
		out = append(out, line[:end])
		line = line[end:]
	}
}

func (p *parser) parseLine(raw string) error {
	f, err := fields(stripComment(raw))
	if err != nil {
		return p.errorf("%v", err)
	}
	if len(f) == 0 {
		return nil
	}
	switch {
	case strings.HasPrefix(f[0], "$"):
		return p.parseObject(f)
	case f[0] == ".entry":
		return p.parseEntry(f[1:])
	default:
		return p.parseInstruction(f)
	}
}

func (p *parser) parseEntry(args []string) error {
	if len(args) == 0 {
		return p.errorf(".entry needs a code reference")
	}
	p.entry = args[0]
	kv, err := p.keyValues(args[1:])
	if err != nil {
		return err
	}
	if s, ok := kv["stack"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return p.errorf("bad stack depth %q", s)
		}
		p.trace.StackEntries = n
	}
	return nil
}

func (p *parser) parseInstruction(f []string) error {
	op, ok := StringToOp(f[0])
	if !ok {
		return p.errorf("unknown opcode %q", f[0])
	}
	in := Instruction{Opcode: op}
	if len(f) > 1 {
		oparg, err := strconv.ParseUint(f[1], 0, 16)
		if err != nil {
			return p.errorf("bad oparg %q", f[1])
		}
		in.Oparg = uint16(oparg)
	}
	for _, tok := range f[min(len(f), 2):] {
		switch {
		case strings.HasPrefix(tok, "target="):
			target, err := strconv.ParseUint(strings.TrimPrefix(tok, "target="), 0, 32)
			if err != nil {
				return p.errorf("bad target %q", tok)
			}
			in.Target = uint32(target)
		case strings.HasPrefix(tok, "$"):
			idx, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				return p.errorf("bad object reference %q", tok)
			}
			in.Operand = idx
		default:
			operand, err := strconv.ParseUint(tok, 0, 64)
			if err != nil {
				return p.errorf("bad operand %q", tok)
			}
			in.Operand = operand
		}
	}
	p.trace.Instructions = append(p.trace.Instructions, in)
	return nil
}

func (p *parser) keyValues(args []string) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, p.errorf("expected key=value, got %q", a)
		}
		kv[k] = v
	}
	return kv, nil
}

func (p *parser) uintField(kv map[string]string, key string, bits int) (uint64, error) {
	s, ok := kv[key]
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, p.errorf("bad %s %q", key, s)
	}
	return v, nil
}

func (p *parser) intField(kv map[string]string, key string) (int, error) {
	s, ok := kv[key]
	if !ok {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, p.errorf("bad %s %q", key, s)
	}
	return v, nil
}

func resolveRef(objs []any, ref string) (any, error) {
	if !strings.HasPrefix(ref, "$") {
		return nil, fmt.Errorf("%w: expected object reference, got %q", ErrSyntax, ref)
	}
	idx, err := strconv.Atoi(ref[1:])
	if err != nil || idx < 0 || idx >= len(objs) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, ref)
	}
	return objs[idx], nil
}

func resolveList(objs []any, list string) ([]any, error) {
	if list == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	out := make([]any, 0, len(parts))
	for _, ref := range parts {
		v, err := resolveRef(objs, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *parser) parseObject(f []string) error {
	idx, err := strconv.Atoi(f[0][1:])
	if err != nil || idx != len(p.trace.Objects) {
		return p.errorf("object %s out of order, expected $%d", f[0], len(p.trace.Objects))
	}
	if len(f) < 2 {
		return p.errorf("object %s has no kind", f[0])
	}
	kind, args := f[1], f[2:]

	var obj any
	switch kind {
	case "int":
		if len(args) != 1 {
			return p.errorf("int needs a value")
		}
		v, err := strconv.ParseInt(args[0], 0, 64)
		if err != nil {
			return p.errorf("bad int %q", args[0])
		}
		obj = v
	case "float":
		if len(args) != 1 {
			return p.errorf("float needs a value")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return p.errorf("bad float %q", args[0])
		}
		obj = v
	case "str":
		if len(args) != 1 {
			return p.errorf("str needs a quoted value")
		}
		v, err := strconv.Unquote(args[0])
		if err != nil {
			return p.errorf("bad string %s", args[0])
		}
		obj = v
	case "bool":
		if len(args) != 1 {
			return p.errorf("bool needs a value")
		}
		v, err := strconv.ParseBool(args[0])
		if err != nil {
			return p.errorf("bad bool %q", args[0])
		}
		obj = v
	case "none":
		obj = None
	case "tuple", "list":
		items := ""
		if len(args) > 0 {
			items = args[0]
		}
		if kind == "tuple" {
			t := &Tuple{}
			p.fixups = append(p.fixups, func(objs []any) (err error) {
				t.Items, err = resolveList(objs, items)
				return err
			})
			obj = t
		} else {
			l := &List{}
			p.fixups = append(p.fixups, func(objs []any) (err error) {
				l.Items, err = resolveList(objs, items)
				return err
			})
			obj = l
		}
	case "code":
		obj, err = p.parseCode(idx, args)
	case "func":
		obj, err = p.parseFunc(idx, args)
	case "method":
		obj, err = p.parseMethod(args)
	case "dict":
		kv, kerr := p.keyValues(args)
		if kerr != nil {
			return kerr
		}
		d := &Dict{ID: uint64(idx) + 1} //nolint:gosec // idx >= 0
		if _, ok := kv["id"]; ok {
			if d.ID, err = p.uintField(kv, "id", 64); err != nil {
				return err
			}
		}
		version, verr := p.uintField(kv, "version", 32)
		if verr != nil {
			return verr
		}
		d.Version = uint32(version)
		obj = d
	case "module":
		if len(args) == 0 {
			return p.errorf("module needs a name")
		}
		kv, kerr := p.keyValues(args[1:])
		if kerr != nil {
			return kerr
		}
		m := &Module{ID: uint64(idx) + 1, Name: args[0]} //nolint:gosec // idx >= 0
		if _, ok := kv["id"]; ok {
			if m.ID, err = p.uintField(kv, "id", 64); err != nil {
				return err
			}
		}
		obj = m
	case "range":
		kv, kerr := p.keyValues(args)
		if kerr != nil {
			return kerr
		}
		r := &RangeIter{Step: 1}
		for key, dst := range map[string]*int64{"next": &r.Next, "stop": &r.Stop, "step": &r.Step} {
			if s, ok := kv[key]; ok {
				if *dst, err = strconv.ParseInt(s, 0, 64); err != nil {
					return p.errorf("bad %s %q", key, s)
				}
			}
		}
		obj = r
	default:
		return p.errorf("unknown object kind %q", kind)
	}
	if err != nil {
		return err
	}
	p.trace.Objects = append(p.trace.Objects, obj)
	return nil
}

func (p *parser) parseCode(idx int, args []string) (*Code, error) {
	if len(args) == 0 {
		return nil, p.errorf("code needs a name")
	}
	kv, err := p.keyValues(args[1:])
	if err != nil {
		return nil, err
	}
	c := &Code{ID: uint64(idx) + 1, Name: args[0]} //nolint:gosec // idx >= 0
	if _, ok := kv["id"]; ok {
		if c.ID, err = p.uintField(kv, "id", 64); err != nil {
			return nil, err
		}
	}
	if c.ArgCount, err = p.intField(kv, "args"); err != nil {
		return nil, err
	}
	if c.NLocalsPlus, err = p.intField(kv, "locals"); err != nil {
		return nil, err
	}
	if c.StackSize, err = p.intField(kv, "stack"); err != nil {
		return nil, err
	}
	if c.ArgCount > c.NLocalsPlus {
		return nil, p.errorf("code %s has more arguments than locals", c.Name)
	}
	consts := kv["consts"]
	p.fixups = append(p.fixups, func(objs []any) (err error) {
		c.Consts, err = resolveList(objs, consts)
		return err
	})
	return c, nil
}

func (p *parser) parseFunc(idx int, args []string) (*Function, error) {
	if len(args) == 0 {
		return nil, p.errorf("func needs a code reference")
	}
	kv, err := p.keyValues(args[1:])
	if err != nil {
		return nil, err
	}
	fn := &Function{ID: uint64(idx) + 1} //nolint:gosec // idx >= 0
	if _, ok := kv["id"]; ok {
		if fn.ID, err = p.uintField(kv, "id", 64); err != nil {
			return nil, err
		}
	}
	version, err := p.uintField(kv, "version", 32)
	if err != nil {
		return nil, err
	}
	fn.Version = uint32(version)
	codeRef := args[0]
	p.fixups = append(p.fixups, func(objs []any) error {
		v, err := resolveRef(objs, codeRef)
		if err != nil {
			return err
		}
		code, ok := v.(*Code)
		if !ok {
			return fmt.Errorf("%w: func code %s is not a code object", ErrSyntax, codeRef)
		}
		fn.Code = code
		return nil
	})
	return fn, nil
}

func (p *parser) parseMethod(args []string) (*BoundMethod, error) {
	if len(args) == 0 {
		return nil, p.errorf("method needs a function reference")
	}
	kv, err := p.keyValues(args[1:])
	if err != nil {
		return nil, err
	}
	m := &BoundMethod{}
	funcRef, selfRef := args[0], kv["self"]
	p.fixups = append(p.fixups, func(objs []any) error {
		v, err := resolveRef(objs, funcRef)
		if err != nil {
			return err
		}
		fn, ok := v.(*Function)
		if !ok {
			return fmt.Errorf("%w: method func %s is not a function", ErrSyntax, funcRef)
		}
		m.Func = fn
		if selfRef != "" {
			if m.Self, err = resolveRef(objs, selfRef); err != nil {
				return err
			}
		}
		return nil
	})
	return m, nil
}

// Format writes t in text form. Objects reachable from the table but not in
// it (constants of code objects, for example) are appended to the written
// table; the indices of existing objects are preserved.
func Format(w io.Writer, t *Trace) error {
	bw := bufio.NewWriter(w)
	objs := append([]any(nil), t.Objects...)
	ref := func(v any) string {
		for i, o := range objs {
			if sameObject(o, v) {
				return "$" + strconv.Itoa(i)
			}
		}
		objs = append(objs, v)
		return "$" + strconv.Itoa(len(objs)-1)
	}
	refs := func(items []any) string {
		parts := make([]string, len(items))
		for i, v := range items {
			parts[i] = ref(v)
		}
		return strings.Join(parts, ",")
	}

	var entry string
	if t.Entry != nil {
		entry = ref(t.Entry)
	}

	for i := 0; i < len(objs); i++ {
		line, err := formatObject(objs[i], ref, refs)
		if err != nil {
			return fmt.Errorf("object $%d: %w", i, err)
		}
		fmt.Fprintf(bw, "$%d %s\n", i, line)
	}
	if entry != "" {
		fmt.Fprintf(bw, ".entry %s stack=%d\n", entry, t.StackEntries)
	}
	for _, in := range t.Instructions {
		fmt.Fprint(bw, in.Opcode.String(), " ", in.Oparg)
		switch {
		case in.Opcode.Flags().Has(FlagObjectOperand):
			fmt.Fprintf(bw, " $%d", in.Operand)
		case in.Operand != 0:
			fmt.Fprintf(bw, " %d", in.Operand)
		}
		if in.Target != 0 {
			fmt.Fprintf(bw, " target=%d", in.Target)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// FormatString is Format into a string.
func FormatString(t *Trace) (string, error) {
	var sb strings.Builder
	if err := Format(&sb, t); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func formatObject(v any, ref func(any) string, refs func([]any) string) (string, error) {
	switch o := v.(type) {
	case int64:
		return "int " + strconv.FormatInt(o, 10), nil
	case int:
		return "int " + strconv.Itoa(o), nil
	case float64:
		return "float " + strconv.FormatFloat(o, 'g', -1, 64), nil
	case string:
		return "str " + strconv.Quote(o), nil
	case bool:
		return "bool " + strconv.FormatBool(o), nil
	case NoneValue:
		return "none", nil
	case *Tuple:
		return strings.TrimSpace("tuple " + refs(o.Items)), nil
	case *List:
		return strings.TrimSpace("list " + refs(o.Items)), nil
	case *Code:
		s := fmt.Sprintf("code %s id=%d args=%d locals=%d stack=%d", o.Name, o.ID, o.ArgCount, o.NLocalsPlus, o.StackSize)
		if len(o.Consts) > 0 {
			s += " consts=" + refs(o.Consts)
		}
		return s, nil
	case *Function:
		if o.Code == nil {
			return "", errors.New("function without code")
		}
		return fmt.Sprintf("func %s id=%d version=%d", ref(o.Code), o.ID, o.Version), nil
	case *BoundMethod:
		if o.Func == nil {
			return "", errors.New("method without function")
		}
		s := "method " + ref(o.Func)
		if o.Self != nil {
			s += " self=" + ref(o.Self)
		}
		return s, nil
	case *Dict:
		return fmt.Sprintf("dict id=%d version=%d", o.ID, o.Version), nil
	case *Module:
		return fmt.Sprintf("module %s id=%d", o.Name, o.ID), nil
	case *RangeIter:
		return fmt.Sprintf("range next=%d stop=%d step=%d", o.Next, o.Stop, o.Step), nil
	default:
		return "", fmt.Errorf("unsupported object %T", v)
	}
}
