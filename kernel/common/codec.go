package common

import (
	"github.com/lunixbochs/argjoy"
)

func (k *KernelBase) commonArgCodec(arg interface{}, vals []interface{}) error {
	if reg, ok := vals[0].(uint64); ok {
		switch v := arg.(type) {
		case *Buf:
			*v = Buf{K: k, Addr: uint32(reg)}
		case *Obuf:
			*v = Obuf{Buf{K: k, Addr: uint32(reg)}}
		case *Len:
			*v = Len(reg)
		case *Off:
			*v = Off(int64(int32(reg)))
		case *Fd:
			*v = Fd(int32(reg))
		case *Ptr:
			*v = Ptr(reg)
		case *string:
			s, err := k.U.Mmu().ReadStrAt(uint32(reg))
			if err != nil {
				return err
			}
			*v = s
		default:
			return argjoy.NoMatch
		}
		return nil
	}
	return argjoy.NoMatch
}
