package dag

import (
	"math/big"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// Distribution is the model-math contract of a stochastic node. Parameter
// values arrive already converted to ParamTypes, in parent order.
// Implementations must be stateless: they may not retain the values they
// are given, since those belong to the graph.
type Distribution interface {
	Name() string
	ParamTypes() []cty.Type
	ValueType() cty.Type
	LnProb(x cty.Value, params []cty.Value) (float64, error)
	Sample(rng *rand.Rand, params []cty.Value) (cty.Value, error)
}

func identity(v cty.Value) (cty.Value, error) { return v, nil }

// conversion resolves the conversion from one declared type to another.
// Safe conversions are preferred; unsafe ones (string to number, from a
// dynamic type) are accepted and may fail when applied.
func conversion(from, to cty.Type) (convert.Conversion, error) {
	if from.Equals(to) || to == cty.DynamicPseudoType {
		return identity, nil
	}
	if c := convert.GetConversion(from, to); c != nil {
		return c, nil
	}
	if c := convert.GetConversionUnsafe(from, to); c != nil {
		return c, nil
	}
	return nil, errors.New(errors.ErrCodeTypeMismatch,
		"cannot convert %s to %s", from.FriendlyName(), to.FriendlyName())
}

func apply(c convert.Conversion, v cty.Value, what string) (cty.Value, error) {
	out, err := c(v)
	if err != nil {
		return cty.NilVal, errors.Wrap(errors.ErrCodeTypeMismatch, err, "%s", what)
	}
	return out, nil
}

// conform converts a caller-supplied value to the declared type and
// rejects values the engine cannot hold.
func conform(v cty.Value, to cty.Type, what string) (cty.Value, error) {
	if v == cty.NilVal || !v.IsWhollyKnown() || v.IsNull() {
		return cty.NilVal, errors.New(errors.ErrCodeInvalidInput, "%s: value must be known and not null", what)
	}
	c, err := conversion(v.Type(), to)
	if err != nil {
		return cty.NilVal, errors.Wrap(errors.ErrCodeTypeMismatch, err, "%s", what)
	}
	return apply(c, v, what)
}

// AsFloat converts a number value to float64.
func AsFloat(v cty.Value) (float64, error) {
	if v.IsNull() || !v.IsKnown() {
		return 0, errors.New(errors.ErrCodeInvalidInput, "value is null or unknown")
	}
	nv, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeTypeMismatch, err, "expected a number")
	}
	var f float64
	if err := gocty.FromCtyValue(nv, &f); err != nil {
		return 0, errors.Wrap(errors.ErrCodeTypeMismatch, err, "expected a number")
	}
	return f, nil
}

// AsInt converts a whole number value to int64.
func AsInt(v cty.Value) (int64, error) {
	if v.IsNull() || !v.IsKnown() {
		return 0, errors.New(errors.ErrCodeInvalidInput, "value is null or unknown")
	}
	nv, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeTypeMismatch, err, "expected a whole number")
	}
	bf := nv.AsBigFloat()
	if !bf.IsInt() {
		return 0, errors.New(errors.ErrCodeTypeMismatch, "%s is not a whole number", bf.Text('g', 10))
	}
	i, acc := bf.Int64()
	if acc != big.Exact {
		return 0, errors.New(errors.ErrCodeIndexOutOfRange, "%s overflows int64", bf.Text('g', 10))
	}
	return i, nil
}

// FormatValue renders a value compactly for logs, labels and tables.
// Numbers use six significant digits.
func FormatValue(v cty.Value) string {
	var b strings.Builder
	formatValue(&b, v)
	return b.String()
}

func formatValue(b *strings.Builder, v cty.Value) {
	switch {
	case v == cty.NilVal:
		b.WriteString("<nil>")
		return
	case !v.IsKnown():
		b.WriteString("<unknown>")
		return
	case v.IsNull():
		b.WriteString("null")
		return
	}

	ty := v.Type()
	switch {
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		b.WriteString(strconv.FormatFloat(f, 'g', 6, 64))
	case ty == cty.String:
		b.WriteString(strconv.Quote(v.AsString()))
	case ty == cty.Bool:
		b.WriteString(strconv.FormatBool(v.True()))
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		b.WriteByte('[')
		i := 0
		for it := v.ElementIterator(); it.Next(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			_, ev := it.Element()
			formatValue(b, ev)
		}
		b.WriteByte(']')
	case ty.IsMapType() || ty.IsObjectType():
		b.WriteByte('{')
		i := 0
		for it := v.ElementIterator(); it.Next(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			k, ev := it.Element()
			b.WriteString(k.AsString())
			b.WriteString(" = ")
			formatValue(b, ev)
		}
		b.WriteByte('}')
	default:
		b.WriteString(v.GoString())
	}
}
