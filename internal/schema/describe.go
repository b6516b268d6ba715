package schema

import (
	"strconv"
	"strings"
)

// Describe renders a node tree as the JSON-like shape description that is
// shown to the model. Optional fields are marked "(optional)".
func Describe(root *Node) string {
	var sb strings.Builder
	describe(&sb, root, 0)
	return sb.String()
}

func describe(sb *strings.Builder, n *Node, depth int) {
	switch n.Kind {
	case KindObject:
		sb.WriteString("{\n")
		for i, f := range n.Fields {
			indent(sb, depth+1)
			sb.WriteString(strconv.Quote(f.Name))
			if f.Optional {
				sb.WriteString(" (optional)")
			}
			sb.WriteString(": ")
			describe(sb, f.Node, depth+1)
			if i < len(n.Fields)-1 {
				sb.WriteByte(',')
			}
			sb.WriteByte('\n')
		}
		indent(sb, depth)
		sb.WriteByte('}')

	case KindArray:
		if n.Items.Kind == KindObject {
			sb.WriteString("[\n")
			indent(sb, depth+1)
			describe(sb, n.Items, depth+1)
			sb.WriteByte('\n')
			indent(sb, depth)
			sb.WriteByte(']')
			return
		}
		sb.WriteByte('[')
		describe(sb, n.Items, depth)
		sb.WriteString(", ...]")

	case KindString:
		doc := n.Doc
		if doc == "" {
			doc = "string"
		}
		sb.WriteString(strconv.Quote(doc))

	case KindNumber:
		sb.WriteString("number")
		if n.Min != nil && n.Max != nil {
			sb.WriteString(" from " + formatNumber(*n.Min) + " to " + formatNumber(*n.Max))
		}

	case KindEnum:
		for i, v := range n.Values {
			if i > 0 {
				sb.WriteString(" | ")
			}
			sb.WriteString(strconv.Quote(v))
		}
	}
}

func indent(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
}
