package parser

import "github.com/confluo-db/confluo/types"

// Test evaluates the compiled expression against a decoded record's field
// values (by column index), per spec.md §4.4: "given a record or a
// (schema-snapshot, raw-buffer) pair, each predicate reads the field at its
// column offset and applies the relop." An empty expression matches
// everything.
func (e *CompiledExpr) Test(fields []types.Numeric) (bool, error) {
	if len(e.Minterms) == 0 {
		return true, nil
	}
	for _, m := range e.Minterms {
		ok, err := m.test(fields)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m Minterm) test(fields []types.Numeric) (bool, error) {
	for _, p := range m {
		ok, err := types.Compare(p.Op, fields[p.ColumnIdx], p.Value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
