// Package blocks flattens the editor's typed block content into plain
// text for the mining pipeline. The block JSON format itself is owned by
// the editor; this package only reads it.
package blocks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InlineType discriminates inline content within a block.
type InlineType string

const (
	InlineText    InlineType = "text"
	InlineLink    InlineType = "link"
	InlineConcept InlineType = "concept"
)

// Inline is one run of inline content.
type Inline struct {
	Type      InlineType `json:"type"`
	Text      string     `json:"text"`
	URL       string     `json:"url,omitempty"`
	ConceptID *uuid.UUID `json:"concept_id,omitempty"`
	Alias     string     `json:"alias,omitempty"`
}

// Block is one node of a document's block tree.
type Block struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Content  []Inline `json:"content,omitempty"`
	Children []*Block `json:"children,omitempty"`
}

// Tree is a document's ordered block tree.
type Tree []*Block

// ParseTree decodes the serialized block tree stored on a document.
func ParseTree(data []byte) (Tree, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse block tree: %w", err)
	}
	return tree, nil
}

// Flatten renders a single block's inline content to plain text with
// typed markers: links become <LINK>text</LINK> and concept mentions
// become <CONCEPT>alias</CONCEPT>. Children are not included.
func Flatten(b *Block) string {
	if b == nil {
		return ""
	}
	var sb strings.Builder
	for _, in := range b.Content {
		switch in.Type {
		case InlineLink:
			sb.WriteString("<LINK>")
			sb.WriteString(in.Text)
			sb.WriteString("</LINK>")
		case InlineConcept:
			sb.WriteString("<CONCEPT>")
			if in.Alias != "" {
				sb.WriteString(in.Alias)
			} else {
				sb.WriteString(in.Text)
			}
			sb.WriteString("</CONCEPT>")
		default:
			sb.WriteString(in.Text)
		}
	}
	return sb.String()
}

// FindBlock looks up a block by id anywhere in the tree.
func FindBlock(tree Tree, blockID string) *Block {
	for _, b := range tree {
		if b.ID == blockID {
			return b
		}
		if found := FindBlock(b.Children, blockID); found != nil {
			return found
		}
	}
	return nil
}

// ContextThrough builds the running context string the entity miner feeds
// the LLM: the document title followed by every block's flattened text in
// document order, up to and including the target block. The second return
// reports whether the target block was found.
func ContextThrough(title string, tree Tree, blockID string) (string, bool) {
	var sb strings.Builder
	sb.WriteString(title)
	found := appendThrough(&sb, tree, blockID)
	return sb.String(), found
}

func appendThrough(sb *strings.Builder, tree Tree, blockID string) bool {
	for _, b := range tree {
		if text := Flatten(b); text != "" {
			sb.WriteString("\n")
			sb.WriteString(text)
		}
		if b.ID == blockID {
			return true
		}
		if appendThrough(sb, b.Children, blockID) {
			return true
		}
	}
	return false
}

// AllIDs returns every block id in the tree in document order. The block
// inspector uses it to detect blocks that vanished since the last pass.
func AllIDs(tree Tree) []string {
	var ids []string
	var walk func(Tree)
	walk = func(t Tree) {
		for _, b := range t {
			ids = append(ids, b.ID)
			walk(b.Children)
		}
	}
	walk(tree)
	return ids
}
