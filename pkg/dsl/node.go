package dsl

import "fmt"

type edge struct {
	condition string
	target    string
}

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	id           string
	label        string
	max          int
	instructions string
	edges        []edge
}

// Label sets the display text of the node.
func (n *NodeBuilder) Label(text string) *NodeBuilder {
	n.label = text
	return n
}

// Max bounds how many times the node may be entered. Zero leaves it unbounded.
func (n *NodeBuilder) Max(iterations int) *NodeBuilder {
	n.max = iterations
	return n
}

// Instructions sets the text returned to the agent when it enters the node.
func (n *NodeBuilder) Instructions(text string) *NodeBuilder {
	n.instructions = text
	return n
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.edges = append(n.edges, edge{target: target})
	return n
}

// Branch adds a labelled transition to the target node.
func (n *NodeBuilder) Branch(condition, target string) *NodeBuilder {
	n.edges = append(n.edges, edge{condition: condition, target: target})
	return n
}

// Terminal removes every transition of the node.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.edges = nil
	return n
}

func (n *NodeBuilder) declaration() string {
	label := n.label
	if n.max > 0 {
		if label == "" {
			label = n.id
		}
		label = fmt.Sprintf("%s @max_iterations: %d", label, n.max)
	}
	if label == "" {
		return n.id
	}
	return fmt.Sprintf("%s[\"%s\"]", n.id, escape(label))
}
