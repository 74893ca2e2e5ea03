package rack

import "fmt"

// Match evaluates the query's conditions against a single entry. Conditions
// and chains short-circuit left to right; the first false wins. An error
// means an operand could not be resolved or an operator was applied to
// incompatible types — callers treat the entry as a non-match and keep the
// error as a diagnostic.
func (q *Query) Match(e *Entry) (bool, error) {
	for i := range q.Conds {
		ok, err := q.evalCond(&q.Conds[i], e)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalCond runs one chain "a OP1 b OP2 c" as (a OP1 b) AND (b OP2 c).
// Each operand is resolved at most once per entry.
func (q *Query) evalCond(c *Condition, e *Entry) (bool, error) {
	vals := make([]Value, len(c.Operands))
	have := make([]bool, len(c.Operands))
	resolve := func(i int) (Value, error) {
		if !have[i] {
			v, err := q.resolveOperand(&c.Operands[i], e)
			if err != nil {
				return Value{}, err
			}
			vals[i], have[i] = v, true
		}
		return vals[i], nil
	}

	for i, op := range c.Ops {
		a, err := resolve(i)
		if err != nil {
			return false, err
		}
		b, err := resolve(i + 1)
		if err != nil {
			return false, err
		}
		ok, err := op.apply(a, b)
		if err != nil {
			return false, evalErrf(q.src, c.Operands[i].off, "%s %s %s: %v",
				c.Operands[i].String(), op.String(), c.Operands[i+1].String(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// resolveOperand turns an operand into a value: literals as parsed, field
// references looked up on the entry (envelope included). A reference that
// matches nothing on the entry's type is an evaluation error.
func (q *Query) resolveOperand(o *Operand, e *Entry) (Value, error) {
	if !o.IsField {
		return o.Lit, nil
	}
	raw, ok := e.lookup(o.Field)
	if !ok {
		return Value{}, evalErrf(q.src, o.off, "%s has no field %q", e.typ.name, o.Field)
	}
	v, err := valueOf(raw)
	if err != nil {
		return Value{}, evalErrf(q.src, o.off, "field %q: %v", o.Field, err)
	}
	return v, nil
}

// apply runs the operator on resolved operands. Fold stringifies and
// lowercases both sides first; Negate inverts the outcome.
func (op Operator) apply(a, b Value) (bool, error) {
	if op.Fold {
		a, b = a.fold(), b.fold()
	}
	var ok bool
	var err error
	switch op.Kind {
	case OpEqual:
		ok = a.equal(b)
	case OpIdentity:
		ok = a.identical(b)
	case OpIn:
		ok, err = b.contains(a)
	case OpStartsWith:
		ok, err = stringPair(a, b, func(x, y string) bool { return len(x) >= len(y) && x[:len(y)] == y })
	case OpEndsWith:
		ok, err = stringPair(a, b, func(x, y string) bool { return len(x) >= len(y) && x[len(x)-len(y):] == y })
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		var c int
		c, err = a.compare(b)
		if err == nil {
			switch op.Kind {
			case OpLess:
				ok = c < 0
			case OpLessOrEqual:
				ok = c <= 0
			case OpGreater:
				ok = c > 0
			case OpGreaterOrEqual:
				ok = c >= 0
			}
		}
	default:
		err = fmt.Errorf("unknown operator")
	}
	if err != nil {
		return false, err
	}
	if op.Negate {
		ok = !ok
	}
	return ok, nil
}

func stringPair(a, b Value, f func(x, y string) bool) (bool, error) {
	if a.Kind() != KindString || b.Kind() != KindString {
		return false, fmt.Errorf("operands must be strings, got %v and %v", a.Kind(), b.Kind())
	}
	return f(a.Str(), b.Str()), nil
}
