package linker

import (
	"fmt"

	"github.com/raysh454/apilens/internal/model"
)

// verdict compares a call against its resolved endpoint. Mismatches are
// recorded, never fatal.
func verdict(call model.ExternalCall, method string, ep model.ExposedEndpoint) Compatibility {
	v := Compatibility{MethodPathMatch: true, ParamShapeMatch: true, AsyncMatch: true}

	if method == "" {
		v.MethodPathMatch = false
		v.Mismatches = append(v.Mismatches, fmt.Sprintf("call declares no method, endpoint expects %s", model.NormalizeMethod(ep.Method)))
	}

	if len(call.Parameters) > 0 {
		if len(call.Parameters) != len(ep.Parameters) {
			v.ParamShapeMatch = false
			v.Mismatches = append(v.Mismatches, fmt.Sprintf("parameter count %d, endpoint expects %d", len(call.Parameters), len(ep.Parameters)))
		} else {
			for i := range call.Parameters {
				ct := model.NormalizeType(call.Parameters[i].Type)
				et := model.NormalizeType(ep.Parameters[i].Type)
				if ct != "" && et != "" && ct != et {
					v.ParamShapeMatch = false
					v.Mismatches = append(v.Mismatches, fmt.Sprintf("parameter %d type %s, endpoint expects %s", i+1, ct, et))
				}
			}
		}
	}

	if call.Async() != ep.Async {
		v.AsyncMatch = false
		v.Mismatches = append(v.Mismatches, fmt.Sprintf("%s call to %s endpoint", syncWord(call.Async()), syncWord(ep.Async)))
	}
	return v
}

func syncWord(async bool) string {
	if async {
		return "async"
	}
	return "sync"
}
