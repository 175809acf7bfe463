package engine

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// coerceArgs converts request arguments (typically JSON-decoded strings and
// numbers) into the Go values the ABI packer expects for each input type.
// args must already be truncated to the input arity.
func coerceArgs(inputs abi.Arguments, args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := coerceArg(inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceArg(t abi.Type, v interface{}) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		switch x := v.(type) {
		case common.Address:
			return x, nil
		case string:
			if !common.IsHexAddress(x) {
				return nil, fmt.Errorf("%q is not a hex address", x)
			}
			return common.HexToAddress(x), nil
		}

	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return sizedInt(t, n)

	case abi.BoolTy:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return x == "true", nil
		}

	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}

	case abi.BytesTy:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return hexutil.Decode(x)
		}

	case abi.FixedBytesTy:
		var raw []byte
		switch x := v.(type) {
		case []byte:
			raw = x
		case string:
			b, err := hexutil.Decode(x)
			if err != nil {
				return nil, err
			}
			raw = b
		default:
			return v, nil
		}
		if len(raw) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(raw))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(raw))
		return arr.Interface(), nil
	}

	// Anything else is handed to the packer as-is and validated there
	return v, nil
}

// toBigInt accepts the numeric encodings a JSON request can carry
func toBigInt(v interface{}) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		return x, nil
	case float64:
		return big.NewInt(int64(x)), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case string:
		base := 10
		s := x
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			base = 16
			s = s[2:]
		}
		n, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("%q is not a valid integer", x)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot use %T as an integer argument", v)
}

// sizedInt converts a big.Int to the exact Go type the packer expects for the
// declared bit size.
func sizedInt(t abi.Type, n *big.Int) (interface{}, error) {
	if t.Size > 64 {
		return n, nil
	}

	rv := reflect.New(t.GetType()).Elem()
	if t.T == abi.UintTy {
		if !n.IsUint64() {
			return nil, fmt.Errorf("%s does not fit in uint%d", n, t.Size)
		}
		rv.SetUint(n.Uint64())
	} else {
		if !n.IsInt64() {
			return nil, fmt.Errorf("%s does not fit in int%d", n, t.Size)
		}
		rv.SetInt(n.Int64())
	}
	return rv.Interface(), nil
}
