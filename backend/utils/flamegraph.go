package utils

import (
	"encoding/json"
	"os"
	"sort"
)

type FlameGraphData struct {
	Name     string
	Value    int64
	Children map[string]*FlameGraphData
}

func NewFlameGraphData() *FlameGraphData {
	return newFlameGraphNode("root")
}

func newFlameGraphNode(name string) *FlameGraphData {
	return &FlameGraphData{
		Name:     name,
		Children: make(map[string]*FlameGraphData),
	}
}

// Add counts val against every frame of stack. The stack is ordered leaf
// first, the way call chains are reported.
func (data *FlameGraphData) Add(stack []string, val int64) {
	node := data
	node.Value += val
	for idx := len(stack) - 1; idx >= 0; idx-- {
		child, isExist := node.Children[stack[idx]]
		if !isExist {
			child = newFlameGraphNode(stack[idx])
			node.Children[stack[idx]] = child
		}
		child.Value += val
		node = child
	}
}

func (data *FlameGraphData) MarshalJSON() ([]byte, error) {
	children := make([]*FlameGraphData, 0, len(data.Children))
	for _, child := range data.Children {
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Value != children[j].Value {
			return children[i].Value > children[j].Value
		}
		return children[i].Name < children[j].Name
	})

	return json.Marshal(&struct {
		Name     string            `json:"name"`
		Value    int64             `json:"value"`
		Children []*FlameGraphData `json:"children"`
	}{
		Name:     data.Name,
		Value:    data.Value,
		Children: children,
	})
}

func (data *FlameGraphData) WriteToFile(path string) error {
	bytes, err := data.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0644)
}
