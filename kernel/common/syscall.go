package common

import (
	"fmt"
	"reflect"
)

type Syscall struct {
	Name     string
	Kernel   *KernelBase
	Instance reflect.Value
	Method   reflect.Method
	In       []reflect.Type
}

// Call invokes a handler from the dispatch table. Will panic() if the
// arguments cannot be coerced - that is a table bug, not a guest error.
func (sys Syscall) Call(args []uint64) uint64 {
	in := make([]reflect.Value, len(sys.In)+1)
	in[0] = sys.Instance
	converted, err := sys.Kernel.Argjoy.Convert(sys.In, false, args)
	if err != nil {
		msg := fmt.Sprintf("calling %T.%s(): %s", sys.Instance.Interface(), sys.Method.Name, err)
		panic(msg)
	}
	copy(in[1:], converted)
	out := sys.Method.Func.Call(in)
	// return the first result if it is representable as an int type
	uint64Type := reflect.TypeOf(uint64(0))
	if len(out) > 0 && out[0].Type().ConvertibleTo(uint64Type) {
		return out[0].Convert(uint64Type).Uint()
	}
	return 0
}
