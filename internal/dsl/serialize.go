package dsl

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/avi3tal/stepflow/internal/types"
)

// Serialize converts a node tree into its document form (id, type, config
// and children), suitable for persistence or transport. The result is
// independent of the tree's maps at the top level, so callers may mutate
// it freely.
func Serialize(n *types.Node) map[string]any {
	if n == nil {
		return nil
	}
	doc := map[string]any{
		"id":   n.ID,
		"type": string(n.Type),
	}
	if len(n.Config) > 0 {
		config := make(map[string]any, len(n.Config))
		for key, value := range n.Config {
			config[key] = value
		}
		doc["config"] = config
	}
	if len(n.Children) > 0 {
		children := make([]any, len(n.Children))
		for i, child := range n.Children {
			children[i] = Serialize(child)
		}
		doc["children"] = children
	}
	return doc
}

// Deserialize rebuilds a node tree from its document form. It guarantees
// Deserialize(Serialize(n)) reproduces n's id, type, config and children.
func Deserialize(doc map[string]any) (*types.Node, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}

	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return nil, errors.New("node document missing id")
	}
	rawType, ok := doc["type"].(string)
	if !ok {
		return nil, errors.Errorf("node %s: missing type", id)
	}
	nodeType := types.NodeType(rawType)
	if !nodeType.Valid() {
		return nil, errors.Errorf("node %s: unknown node type %q", id, rawType)
	}

	config := map[string]any{}
	if raw, present := doc["config"]; present {
		m, isMap := raw.(map[string]any)
		if !isMap {
			return nil, errors.Errorf("node %s: config must be a map, got %T", id, raw)
		}
		for key, value := range m {
			config[key] = value
		}
	}

	n := &types.Node{ID: id, Type: nodeType, Config: config}
	if raw, present := doc["children"]; present {
		list, isList := raw.([]any)
		if !isList {
			return nil, errors.Errorf("node %s: children must be a list, got %T", id, raw)
		}
		for i, item := range list {
			childDoc, isMap := item.(map[string]any)
			if !isMap {
				return nil, errors.Errorf("node %s: child %d is not a map", id, i)
			}
			child, err := Deserialize(childDoc)
			if err != nil {
				return nil, errors.Wrapf(err, "node %s: child %d", id, i)
			}
			n.Children = append(n.Children, child)
		}
	}
	return n, nil
}

// EncodeJSON renders a node tree as JSON bytes.
func EncodeJSON(n *types.Node) ([]byte, error) {
	data, err := json.Marshal(Serialize(n))
	if err != nil {
		return nil, errors.Wrap(err, "encode node tree")
	}
	return data, nil
}

// DecodeJSON rebuilds a node tree from JSON bytes produced by EncodeJSON.
func DecodeJSON(data []byte) (*types.Node, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode node tree")
	}
	return Deserialize(doc)
}
