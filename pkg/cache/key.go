package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/expectedparrot/edsl-sub003/pkg/model"
)

// keyInput is hashed as JSON. encoding/json writes map keys sorted, so the
// params encoding is canonical.
type keyInput struct {
	Prompt    string         `json:"prompt"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Params    map[string]any `json:"params"`
	Iteration int            `json:"iteration"`
}

// Key returns the content address of a model call: the hex sha256 of the
// fully rendered prompt, the model spec with its parameters, and the
// iteration. Equal inputs always produce equal keys.
func Key(prompt string, spec model.Spec, iteration int) string {
	params := spec.Params
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(keyInput{
		Prompt:    prompt,
		Provider:  strings.ToLower(strings.TrimSpace(spec.Provider)),
		Model:     strings.TrimSpace(spec.Name),
		Params:    params,
		Iteration: iteration,
	})
	if err != nil {
		// Params that cannot be encoded still need a stable address.
		data = []byte(prompt + "\x00" + spec.String() + "\x00" + strconv.Itoa(iteration))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyFor addresses a request. The system prompt is part of the rendered
// prompt, so two agents asked the same question never share an entry.
func KeyFor(req *model.Request) string {
	if req == nil {
		return ""
	}
	return Key(req.System+"\n\n"+req.Prompt, req.Model, req.Iteration)
}
