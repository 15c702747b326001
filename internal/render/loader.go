package render

import (
	"encoding/json"

	"notice-engine/internal/mixin"
)

// MWLoader emits an inline script calling mw.loader.load with every module's
// load parameters, guarded on the loader being present.
type MWLoader struct{}

func (MWLoader) LoadScript(mods []mixin.Module) (string, error) {
	params := make([]any, len(mods))
	for i, m := range mods {
		if m.Params == nil {
			params[i] = m.Name
			continue
		}
		params[i] = m.Params
	}
	args, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return "<script>if(window.mw){\nmw.loader.load(" + string(args) + ");\n}</script>", nil
}
